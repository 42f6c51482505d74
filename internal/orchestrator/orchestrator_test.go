package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sip-agent/internal/delegate"
	"sip-agent/internal/metrics"
	"sip-agent/internal/model"
	"sip-agent/internal/paywall"
	"sip-agent/internal/strategy"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

func candlesFrom(closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{T: time.Unix(int64(i)*300, 0), O: c, H: c, L: c, C: c}
	}
	return out
}

// rally climbs 0.5 per bar from 100: uptrend, no trigger.
func rally(n int) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	return candlesFrom(closes)
}

// pullback is a rally with three sharp drops at the end: green dip.
func pullback() []model.Candle {
	c := rally(250)
	last := c[len(c)-1].C
	for i := 1; i <= 3; i++ {
		v := last - 3*float64(i)
		c = append(c, model.Candle{T: time.Unix(int64(len(c))*300, 0), O: v, H: v, L: v, C: v})
	}
	return c
}

type fakeSource struct {
	candles map[string][]model.Candle
	errs    map[string]error
	panics  map[string]bool
	delay   time.Duration

	inFlight, peak atomic.Int32
}

func (f *fakeSource) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[symbol] {
		panic("source exploded")
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}

type fakeSwapper struct {
	mu   sync.Mutex
	reqs []model.SwapRequest
	err  error
}

func (f *fakeSwapper) Swap(_ context.Context, req model.SwapRequest) (model.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return model.Receipt{}, f.err
	}
	return model.Receipt{TxSig: "sig-" + req.Asset, Price: model.Float(req.RefPrice)}, nil
}

type recordingSink struct {
	cycles []model.Cycle
	err    error
}

func (r *recordingSink) Record(_ context.Context, c model.Cycle) error {
	r.cycles = append(r.cycles, c)
	return r.err
}

func newTestOrchestrator(cfg Config, src model.CandleSource, sw model.Swapper, opts ...Option) *Orchestrator {
	if cfg.Trigger == (strategy.Config{}) {
		cfg.Trigger = strategy.DefaultConfig()
	}
	o := New(cfg, src, sw, opts...)
	o.newID = func() string { return "cycle-1" }
	return o
}

// ────────────────────────────────────────────────────────────
// Budget
// ────────────────────────────────────────────────────────────

func TestShare(t *testing.T) {
	if got := Share(100, 4); got != 25 {
		t.Errorf("Share(100,4) = %v", got)
	}
	if got := Share(100, 0); got != 0 {
		t.Errorf("Share(100,0) = %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Run
// ────────────────────────────────────────────────────────────

func TestRun_IsolationAndOrder(t *testing.T) {
	src := &fakeSource{
		candles: map[string][]model.Candle{"BTC": pullback(), "SOL": rally(250)},
		errs:    map[string]error{"ETH": &delegate.StatusError{Delegate: "data", Op: "candles", Status: 500}},
	}
	sw := &fakeSwapper{}
	o := newTestOrchestrator(Config{Assets: []string{"BTC", "ETH", "SOL"}, Budget: 90, MaxSlippageBps: 30, MaxConcurrency: 3}, src, sw)

	cycle := o.Run(context.Background())

	if cycle.ID != "cycle-1" || len(cycle.Outcomes) != 3 {
		t.Fatalf("cycle = %+v", cycle)
	}
	for i, want := range []string{"BTC", "ETH", "SOL"} {
		if cycle.Outcomes[i].Asset != want {
			t.Errorf("outcome[%d].Asset = %s, want %s", i, cycle.Outcomes[i].Asset, want)
		}
		if cycle.Outcomes[i].Budget != 30 {
			t.Errorf("outcome[%d].Budget = %v, want 30", i, cycle.Outcomes[i].Budget)
		}
	}

	btc, eth, sol := cycle.Outcomes[0], cycle.Outcomes[1], cycle.Outcomes[2]
	if btc.Decision != model.DecisionBought || btc.Reason != model.ReasonGreenDip || btc.Receipt == nil || btc.Receipt.TxSig != "sig-BTC" {
		t.Errorf("BTC = %+v", btc)
	}
	if eth.Decision != model.DecisionErrored || eth.ErrorKind != KindDelegate || eth.Error == "" {
		t.Errorf("ETH = %+v", eth)
	}
	if sol.Decision != model.DecisionSkipped || sol.Reason != model.ReasonHold || sol.Indicators == nil {
		t.Errorf("SOL = %+v", sol)
	}

	if len(sw.reqs) != 1 {
		t.Fatalf("swaps = %d, want 1", len(sw.reqs))
	}
	req := sw.reqs[0]
	if req.Asset != "BTC" || req.AmountUSDC != 30 || req.MaxSlippageBps != 30 || req.RefPrice == 0 {
		t.Errorf("swap request = %+v", req)
	}

	rep := cycle.Report()
	if !rep.OK || len(rep.Results) != 3 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRun_ForceExecuteUsesFallbackReason(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{"BTC": pullback(), "SOL": rally(250)}}
	sw := &fakeSwapper{}
	o := newTestOrchestrator(Config{Assets: []string{"BTC", "SOL"}, Budget: 50, ForceExecute: true}, src, sw)

	cycle := o.Run(context.Background())

	if got := cycle.Outcomes[0]; got.Decision != model.DecisionBought || got.Reason != model.ReasonGreenDip {
		t.Errorf("BTC = %s/%s, want bought/green_dip", got.Decision, got.Reason)
	}
	if got := cycle.Outcomes[1]; got.Decision != model.DecisionBought || got.Reason != model.ReasonFallbackDeadline {
		t.Errorf("SOL = %s/%s, want bought/fallback_deadline", got.Decision, got.Reason)
	}
}

func TestRun_ForceExecuteWithShortHistory(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{"BTC": rally(10)}}
	o := newTestOrchestrator(Config{Assets: []string{"BTC"}, Budget: 10, ForceExecute: true}, src, &fakeSwapper{})

	got := o.Run(context.Background()).Outcomes[0]
	if got.Decision != model.DecisionBought || got.Reason != model.ReasonFallbackDeadline {
		t.Errorf("got %s/%s, want bought/fallback_deadline", got.Decision, got.Reason)
	}
}

func TestRun_ZeroBudgetSkipsTriggeredAsset(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{"BTC": pullback()}}
	sw := &fakeSwapper{}
	o := newTestOrchestrator(Config{Assets: []string{"BTC"}, Budget: 0}, src, sw)

	got := o.Run(context.Background()).Outcomes[0]
	if got.Decision != model.DecisionSkipped || got.Reason != model.ReasonZeroBudget {
		t.Errorf("got %s/%s, want skipped/zero_budget", got.Decision, got.Reason)
	}
	if len(sw.reqs) != 0 {
		t.Error("swapper called with zero budget")
	}
}

func TestRun_NaNBudgetSkipsForcedAsset(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{"BTC": pullback()}}
	sw := &fakeSwapper{}
	o := newTestOrchestrator(Config{Assets: []string{"BTC"}, Budget: math.NaN(), ForceExecute: true}, src, sw)

	got := o.Run(context.Background()).Outcomes[0]
	if got.Decision != model.DecisionSkipped || got.Reason != model.ReasonZeroBudget {
		t.Errorf("got %s/%s, want skipped/zero_budget", got.Decision, got.Reason)
	}
	if len(sw.reqs) != 0 {
		t.Errorf("swapper called %d times", len(sw.reqs))
	}
}

func TestRun_SwapFailureKeepsShare(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{"BTC": pullback(), "ETH": pullback()}}
	sw := &fakeSwapper{err: &paywall.PaymentExecutionError{PayTo: "x", Atoms: 1, Err: errors.New("no funds")}}
	o := newTestOrchestrator(Config{Assets: []string{"BTC", "ETH"}, Budget: 20, MaxConcurrency: 1}, src, sw)

	cycle := o.Run(context.Background())
	for _, out := range cycle.Outcomes {
		if out.Decision != model.DecisionErrored || out.ErrorKind != KindPaymentExecution || out.Budget != 10 {
			t.Errorf("%s = %+v", out.Asset, out)
		}
	}
	if len(sw.reqs) != 2 || sw.reqs[1].AmountUSDC != 10 {
		t.Errorf("second swap did not keep its fixed share: %+v", sw.reqs)
	}
}

func TestRun_PanicBecomesInternalError(t *testing.T) {
	src := &fakeSource{
		candles: map[string][]model.Candle{"ETH": rally(250)},
		panics:  map[string]bool{"BTC": true},
	}
	o := newTestOrchestrator(Config{Assets: []string{"BTC", "ETH"}, Budget: 20, MaxConcurrency: 2}, src, &fakeSwapper{})

	cycle := o.Run(context.Background())
	if got := cycle.Outcomes[0]; got.Decision != model.DecisionErrored || got.ErrorKind != KindInternal || !strings.Contains(got.Error, "source exploded") {
		t.Errorf("BTC = %+v", got)
	}
	if got := cycle.Outcomes[1]; got.Decision != model.DecisionSkipped {
		t.Errorf("sibling affected by panic: %+v", got)
	}
}

func TestRun_ManyAssetsRespectLimit(t *testing.T) {
	assets := make([]string, 12)
	candles := map[string][]model.Candle{}
	for i := range assets {
		assets[i] = fmt.Sprintf("A%02d", i)
		candles[assets[i]] = rally(250)
	}
	src := &fakeSource{candles: candles, delay: 5 * time.Millisecond}
	o := newTestOrchestrator(Config{Assets: assets, Budget: 120, MaxConcurrency: 3}, src, &fakeSwapper{})

	cycle := o.Run(context.Background())
	for i, out := range cycle.Outcomes {
		if out.Asset != assets[i] {
			t.Fatalf("outcome[%d] = %s, want %s", i, out.Asset, assets[i])
		}
	}
	if p := src.peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
}

func TestRun_EmptyBasket(t *testing.T) {
	o := newTestOrchestrator(Config{Budget: 100}, &fakeSource{}, &fakeSwapper{})
	cycle := o.Run(context.Background())
	if len(cycle.Outcomes) != 0 {
		t.Errorf("outcomes = %v", cycle.Outcomes)
	}
	if rep := cycle.Report(); !rep.OK || rep.Results == nil {
		t.Errorf("report = %+v", rep)
	}
}

func TestRun_SinkFailureDoesNotChangeCycle(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{"BTC": rally(250)}}
	bad := &recordingSink{err: errors.New("disk full")}
	good := &recordingSink{}
	m := metrics.NewMetrics()
	h := metrics.NewHealthStatus()
	o := newTestOrchestrator(Config{Assets: []string{"BTC"}, Budget: 10}, src, &fakeSwapper{},
		WithSink("journal", bad), WithSink("alerts", good), WithMetrics(m), WithHealth(h))

	cycle := o.Run(context.Background())
	if len(bad.cycles) != 1 || len(good.cycles) != 1 {
		t.Errorf("sinks called: bad=%d good=%d", len(bad.cycles), len(good.cycles))
	}
	if cycle.Outcomes[0].Decision != model.DecisionSkipped {
		t.Errorf("outcome = %+v", cycle.Outcomes[0])
	}
	if h.LastCycleID != "cycle-1" || h.LastSkipped != 1 {
		t.Errorf("health not updated: %+v", h)
	}
}

// ────────────────────────────────────────────────────────────
// Classification
// ────────────────────────────────────────────────────────────

func TestErrorKind(t *testing.T) {
	timeout := &model.TimeoutError{Op: "runner pay", Err: context.DeadlineExceeded}
	tests := []struct {
		err  error
		want string
	}{
		{&paywall.ProtocolError{Field: "X-402-Price", Detail: "missing"}, KindProtocol},
		{&paywall.PaymentExecutionError{Err: errors.New("rejected")}, KindPaymentExecution},
		{&paywall.PaymentVerificationError{Invoice: "inv", Detail: "bad"}, KindPaymentVerification},
		{&paywall.PaymentExecutionError{Err: timeout}, KindTimeout},
		{&paywall.PaymentVerificationError{Invoice: "inv", Err: timeout}, KindTimeout},
		{fmt.Errorf("data: %w", timeout), KindTimeout},
		{&model.MalformedResponseError{Detail: "x"}, KindMalformedResponse},
		{&delegate.StatusError{Status: 502}, KindDelegate},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestErrorKind_RateLimitedRunnerPastDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"txSig":"SIG","price":2}`)
	}))
	defer srv.Close()

	runner := delegate.NewRunner(srv.URL, "MINT",
		delegate.WithHTTPClient(delegate.NewHTTPClient(0.1, 1)),
		delegate.WithTimeout(100*time.Millisecond))
	req := model.SwapRequest{Asset: "SOL", AmountUSDC: 5}

	if _, err := runner.Swap(context.Background(), req); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	_, err := runner.Swap(context.Background(), req)
	if got := ErrorKind(err); got != KindTimeout {
		t.Errorf("ErrorKind(%v) = %s, want %s", err, got, KindTimeout)
	}
}
