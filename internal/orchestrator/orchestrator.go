// Package orchestrator runs one decision cycle over a basket of assets:
// fetch candles, evaluate the trigger and buy through the swapper, each
// asset in its own isolated pipeline under a pre-split budget.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sip-agent/internal/delegate"
	"sip-agent/internal/logger"
	"sip-agent/internal/metrics"
	"sip-agent/internal/model"
	"sip-agent/internal/paywall"
	"sip-agent/internal/strategy"
)

// Error kinds reported on errored outcomes.
const (
	KindProtocol            = "protocol"
	KindPaymentExecution    = "payment_execution"
	KindPaymentVerification = "payment_verification"
	KindTimeout             = "timeout"
	KindMalformedResponse   = "malformed_response"
	KindDelegate            = "delegate"
	KindInternal            = "internal"
)

// Config holds the per-run inputs that do not change between cycles.
type Config struct {
	Assets         []string
	Budget         float64 // total USDC per cycle
	Trigger        strategy.Config
	MaxSlippageBps int
	ForceExecute   bool // buy every asset regardless of the trigger
	MaxConcurrency int  // <= 0 means 1
}

// Orchestrator runs cycles. It is safe to call Run repeatedly but not
// concurrently with itself.
type Orchestrator struct {
	cfg       Config
	source    model.CandleSource
	swapper   model.Swapper
	sinks     map[string]model.OutcomeSink
	sinkOrder []string
	metrics   *metrics.Metrics
	health    *metrics.HealthStatus
	now       func() time.Time
	newID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink adds a named outcome sink. Sinks run in registration order after
// the cycle completes.
func WithSink(name string, s model.OutcomeSink) Option {
	return func(o *Orchestrator) {
		o.sinks[name] = s
		o.sinkOrder = append(o.sinkOrder, name)
	}
}

// WithMetrics enables cycle and outcome metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithHealth records each finished cycle on h.
func WithHealth(h *metrics.HealthStatus) Option { return func(o *Orchestrator) { o.health = h } }

// New creates an Orchestrator.
func New(cfg Config, source model.CandleSource, swapper model.Swapper, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	o := &Orchestrator{
		cfg:     cfg,
		source:  source,
		swapper: swapper,
		sinks:   make(map[string]model.OutcomeSink),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Share is the fixed per-asset budget: total divided evenly, or 0 for an
// empty basket.
func Share(total float64, assets int) float64 {
	if assets == 0 {
		return 0
	}
	return total / float64(assets)
}

// Run executes one cycle. Per-asset failures become errored outcomes and
// never abort siblings; the returned cycle always has one outcome per
// asset in input order.
func (o *Orchestrator) Run(ctx context.Context) model.Cycle {
	cycle := model.Cycle{
		ID:        o.newID(),
		StartedAt: o.now(),
		Budget:    o.cfg.Budget,
		Outcomes:  make([]model.AssetOutcome, len(o.cfg.Assets)),
	}
	share := Share(o.cfg.Budget, len(o.cfg.Assets))

	slog.Info("cycle started", "cycle_id", cycle.ID, "assets", len(o.cfg.Assets), "share", share)

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)
	for i, asset := range o.cfg.Assets {
		g.Go(func() error {
			actx := logger.WithTraceID(ctx, logger.AssetTraceID(cycle.ID, asset))
			cycle.Outcomes[i] = o.runAsset(actx, asset, share)
			return nil
		})
	}
	g.Wait()

	cycle.FinishedAt = o.now()
	bought, skipped, errored := cycle.Tally()
	o.metrics.CycleDone(cycle.StartedAt, cycle.FinishedAt)
	o.health.SetCycle(cycle.ID, cycle.FinishedAt, bought, skipped, errored)

	slog.Info("cycle finished",
		"cycle_id", cycle.ID,
		"bought", bought,
		"skipped", skipped,
		"errored", errored,
		"duration", cycle.FinishedAt.Sub(cycle.StartedAt).String(),
	)

	o.record(ctx, cycle)
	return cycle
}

// record hands the cycle to every sink. Failures are logged and counted.
func (o *Orchestrator) record(ctx context.Context, cycle model.Cycle) {
	for _, name := range o.sinkOrder {
		if err := o.sinks[name].Record(ctx, cycle); err != nil {
			o.metrics.SinkError(name)
			slog.Warn("outcome sink failed", "sink", name, "cycle_id", cycle.ID, "error", err)
		}
	}
}

// runAsset is the per-asset pipeline. Panics are recovered into an errored
// outcome.
func (o *Orchestrator) runAsset(ctx context.Context, asset string, share float64) (out model.AssetOutcome) {
	out = model.AssetOutcome{Asset: asset, Budget: share}
	trace := logger.LogWithTrace(ctx)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("asset pipeline panic", append(trace, "panic", r, "stack", string(debug.Stack()))...)
			out = errored(out, KindInternal, fmt.Errorf("panic: %v", r))
		}
		o.metrics.Outcome(string(out.Decision), out.Reason)
	}()

	candles, err := o.source.Candles(ctx, asset)
	if err != nil {
		slog.Warn("candle fetch failed", append(trace, "error", err)...)
		return errored(out, ErrorKind(err), err)
	}

	start := time.Now()
	res := strategy.EvaluateCandles(candles, o.cfg.Trigger)
	o.metrics.ObserveEvaluate(time.Since(start))

	snap, flags := res.Snapshot, res.Flags
	out.Indicators, out.Flags = &snap, &flags

	slog.Debug("trigger evaluated", append(trace,
		"candles", len(candles),
		"buy", res.Buy,
		"reason", res.Reason,
		"history_ok", res.HistoryOK,
	)...)

	if !res.Buy && !o.cfg.ForceExecute {
		out.Decision, out.Reason = model.DecisionSkipped, res.Reason
		return out
	}

	reason := res.Reason
	if !res.Buy {
		reason = model.ReasonFallbackDeadline
	}
	if !(share > 0) {
		out.Decision, out.Reason = model.DecisionSkipped, model.ReasonZeroBudget
		return out
	}

	receipt, err := o.swapper.Swap(ctx, model.SwapRequest{
		Asset:          asset,
		AmountUSDC:     share,
		MaxSlippageBps: o.cfg.MaxSlippageBps,
		RefPrice:       float64(snap.Price),
	})
	if err != nil {
		slog.Warn("swap failed", append(trace, "error", err)...)
		return errored(out, ErrorKind(err), err)
	}

	slog.Info("bought", append(trace, "reason", reason, "amount_usdc", share, "tx", receipt.TxSig)...)
	out.Decision, out.Reason, out.Receipt = model.DecisionBought, reason, &receipt
	return out
}

func errored(out model.AssetOutcome, kind string, err error) model.AssetOutcome {
	out.Decision = model.DecisionErrored
	out.Reason = model.ReasonError
	out.Error = err.Error()
	out.ErrorKind = kind
	return out
}

// ErrorKind classifies err. Timeouts win over the payment errors that may
// wrap them.
func ErrorKind(err error) string {
	var (
		te  *model.TimeoutError
		me  *model.MalformedResponseError
		pe  *paywall.ProtocolError
		pxe *paywall.PaymentExecutionError
		pve *paywall.PaymentVerificationError
		se  *delegate.StatusError
	)
	switch {
	case errors.As(err, &te):
		return KindTimeout
	case errors.As(err, &pe):
		return KindProtocol
	case errors.As(err, &pxe):
		return KindPaymentExecution
	case errors.As(err, &pve):
		return KindPaymentVerification
	case errors.As(err, &me):
		return KindMalformedResponse
	case errors.As(err, &se):
		return KindDelegate
	default:
		return KindInternal
	}
}
