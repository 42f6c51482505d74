package delegate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sip-agent/internal/logger"
	"sip-agent/internal/model"
	"sip-agent/internal/paywall"
)

// Candle window requested when none is configured.
const (
	DefaultTimeframe = "5m"
	DefaultLimit     = 500
)

// DataSource fetches priced candles through a payment-gated client.
// It implements model.CandleSource.
type DataSource struct {
	base
	fetcher *paywall.Client
	tf      string
	limit   int
}

// NewDataSource creates a candle source for the data delegate at baseURL.
func NewDataSource(baseURL string, fetcher *paywall.Client, tf string, limit int, opts ...Option) *DataSource {
	if tf == "" {
		tf = DefaultTimeframe
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &DataSource{base: newBase("data", baseURL, opts), fetcher: fetcher, tf: tf, limit: limit}
}

// Candles returns the most recent candle window for symbol, oldest first.
func (d *DataSource) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("tf", d.tf)
	q.Set("limit", strconv.Itoa(d.limit))

	req, err := http.NewRequest(http.MethodGet, d.baseURL+"/token-data?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("data candles: create request: %w", err)
	}

	start := time.Now()
	resp, err := d.fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	d.metrics.ObserveDelegate(d.name, "candles", time.Since(start))
	if err != nil {
		return nil, model.AsTimeout("data candles", fmt.Errorf("data candles: read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Delegate: d.name, Op: "candles", Status: resp.StatusCode, Body: excerpt(raw)}
	}

	candles, err := model.DecodeCandles(raw)
	if err != nil {
		return nil, err
	}
	if err := model.CheckOrdered(candles); err != nil {
		// The evaluator never re-sorts; surface it and carry on.
		slog.Warn("candles out of order", append(logger.LogWithTrace(ctx), "symbol", symbol, "error", err)...)
	}
	return candles, nil
}
