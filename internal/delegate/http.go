// Package delegate holds HTTP clients for the three external services the
// agent depends on: the data service (priced candles), the merchant
// (invoices and payment verification) and the runner (payments and swaps).
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sip-agent/internal/metrics"
	"sip-agent/internal/model"
)

// StatusError reports a non-2xx delegate response.
type StatusError struct {
	Delegate string
	Op       string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Delegate, e.Op, e.Status, e.Body)
}

// NewHTTPClient returns the client shared by every delegate: pooled
// connections, no cookie jar, and outgoing requests limited to rps with the
// given burst. rps <= 0 disables the limit.
func NewHTTPClient(rps float64, burst int) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	if rps <= 0 {
		return &http.Client{Transport: transport}
	}
	if burst < 1 {
		burst = 1
	}
	return &http.Client{Transport: &limitedTransport{
		next:    transport,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}}
}

// limitedTransport waits for a limiter token before each round trip.
type limitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := t.limiter.Wait(ctx); err != nil {
		// Wait refuses up front when the token would arrive after the
		// deadline; that error does not wrap context.DeadlineExceeded.
		if _, ok := ctx.Deadline(); ok && !errors.Is(err, context.Canceled) {
			return nil, &model.TimeoutError{Op: "rate limit", Err: err}
		}
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return t.next.RoundTrip(req)
}

// Option configures a delegate client.
type Option func(*base)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option { return func(b *base) { b.http = c } }

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(b *base) { b.timeout = d } }

// WithMetrics records call latency.
func WithMetrics(m *metrics.Metrics) Option { return func(b *base) { b.metrics = m } }

// base is the shared plumbing of every delegate client.
type base struct {
	name    string
	baseURL string
	http    *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

func newBase(name, baseURL string, opts []Option) base {
	b := base{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// reply is a fully read delegate response.
type reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// call sends one request. The body is fully read under the call timeout.
func (b *base) call(ctx context.Context, op, method, path string, in any) (reply, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return reply{}, fmt.Errorf("%s %s: marshal: %w", b.name, op, err)
		}
		body = bytes.NewReader(raw)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return reply{}, fmt.Errorf("%s %s: create request: %w", b.name, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		return reply{}, model.AsTimeout(b.name+" "+op, fmt.Errorf("%s %s: %w", b.name, op, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	b.metrics.ObserveDelegate(b.name, op, time.Since(start))
	if err != nil {
		return reply{}, model.AsTimeout(b.name+" "+op, fmt.Errorf("%s %s: read body: %w", b.name, op, err))
	}
	return reply{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// postJSON posts in and decodes a 2xx answer into out.
func (b *base) postJSON(ctx context.Context, op, path string, in, out any) error {
	r, err := b.call(ctx, op, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	if r.Status < 200 || r.Status >= 300 {
		return &StatusError{Delegate: b.name, Op: op, Status: r.Status, Body: excerpt(r.Body)}
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &model.MalformedResponseError{Detail: b.name + " " + op + ": " + excerpt(r.Body), Err: err}
	}
	return nil
}

func excerpt(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
