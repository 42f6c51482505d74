package paywall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sip-agent/internal/logger"
	"sip-agent/internal/metrics"
	"sip-agent/internal/model"
)

// Payer sends atoms of the settlement token to payTo and returns the
// transaction id.
type Payer interface {
	Pay(ctx context.Context, payTo string, atoms int64) (string, error)
}

// Verifier asks the merchant to accept proof for an invoice. A rejected
// proof is reported as *PaymentVerificationError.
type Verifier interface {
	Verify(ctx context.Context, invoice string, proof Proof) error
}

// Settlement describes one verified payment.
type Settlement struct {
	Invoice  string
	TxID     string
	PayTo    string
	Currency string
	Atoms    int64
	URL      string
	At       time.Time
}

// SettlementHook is told about every verified payment.
type SettlementHook func(ctx context.Context, s Settlement)

// Client performs payment-gated HTTP requests.
type Client struct {
	http     *http.Client
	payer    Payer
	verifier Verifier
	mint     string
	timeout  time.Duration
	hook     SettlementHook
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every network leg (request, pay, verify, replay).
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithMint sets the settlement token mint placed in proofs.
func WithMint(mint string) Option { return func(c *Client) { c.mint = mint } }

// WithSettlementHook registers a callback for verified payments.
func WithSettlementHook(h SettlementHook) Option { return func(c *Client) { c.hook = h } }

// WithMetrics enables fetch and payment counters.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// NewClient creates a payment-gated client. A nil httpClient uses
// http.DefaultClient.
func NewClient(httpClient *http.Client, payer Payer, verifier Verifier, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:     httpClient,
		payer:    payer,
		verifier: verifier,
		timeout:  15 * time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req. A non-402 response is returned as is. A 402 is settled
// through the payer and verifier and the request is replayed once with the
// correlation headers; the replay's response is returned whatever its
// status. At most one payment is attempted per call.
//
// The returned body stays readable until closed even though each leg runs
// under the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := bufferBody(req); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, "fetch")
	if err != nil {
		c.metrics.Fetch("error")
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		c.metrics.Fetch("free")
		return resp, nil
	}
	// The challenge lives in the headers.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ch, err := ParseChallenge(resp.Header)
	if err != nil {
		c.metrics.Fetch("error")
		return nil, err
	}

	log := append(logger.LogWithTrace(ctx), "url", req.URL.String(), "invoice", ch.InvoiceID)
	slog.Debug("x402 challenge", append(log, "price", ch.Price.String(), "currency", ch.Currency)...)

	var s Session
	if err := s.Settle(ctx, ch, c.payer, c.verifier, c.mint, c.timeout); err != nil {
		c.metrics.Fetch("error")
		var pee *PaymentExecutionError
		if errors.As(err, &pee) {
			c.metrics.Payment("pay_failed")
		} else {
			c.metrics.Payment("verify_failed")
		}
		slog.Warn("x402 settlement failed", append(log, "error", err)...)
		return nil, err
	}
	c.metrics.Payment("settled")
	c.metrics.Settled(ch.Atoms())
	slog.Info("x402 settled", append(log, "tx", s.TxID(), "atoms", ch.Atoms())...)

	if c.hook != nil {
		c.hook(ctx, Settlement{
			Invoice:  ch.InvoiceID,
			TxID:     s.TxID(),
			PayTo:    ch.PayTo,
			Currency: ch.Currency,
			Atoms:    ch.Atoms(),
			URL:      req.URL.String(),
			At:       c.now(),
		})
	}

	replay := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("x402 replay body: %w", err)
		}
		replay.Body = body
	}
	s.Decorate(replay.Header)

	resp, err = c.send(ctx, replay, "replay")
	if err != nil {
		c.metrics.Fetch("error")
		return nil, err
	}
	c.metrics.Fetch("paid")
	return resp, nil
}

// send performs one leg under the client timeout. The timeout stays armed
// until the response body is closed.
func (c *Client) send(ctx context.Context, req *http.Request, op string) (*http.Response, error) {
	legCtx, cancel := withTimeout(ctx, c.timeout)
	resp, err := c.http.Do(req.WithContext(legCtx))
	if err != nil {
		cancel()
		return nil, model.AsTimeout("x402 "+op, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// bufferBody makes req's body replayable.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("x402 read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return nil
}
