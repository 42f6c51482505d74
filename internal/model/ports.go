package model

import "context"

// ── Ports ──
// These interfaces decouple the orchestrator from the delegates and sinks it
// talks to (HTTP delegates, paper execution, SQLite, Redis, alerting).

// CandleSource fetches a recent candle window for one asset.
type CandleSource interface {
	Candles(ctx context.Context, symbol string) ([]Candle, error)
}

// Swapper executes a buy and returns the delegate's receipt.
type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (Receipt, error)
}

// OutcomeSink receives every finished cycle.
// A sink error never changes the cycle's reported result.
type OutcomeSink interface {
	Record(ctx context.Context, cycle Cycle) error
}
