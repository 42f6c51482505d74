// Package execution provides the dry-run swap path.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"sip-agent/internal/logger"
	"sip-agent/internal/model"
)

// Fill represents a simulated swap.
type Fill struct {
	TxSig      string    `json:"tx_sig"`
	Asset      string    `json:"asset"`
	AmountUSDC float64   `json:"amount_usdc"`
	RefPrice   float64   `json:"ref_price"`
	FillPrice  float64   `json:"fill_price"`
	Quantity   float64   `json:"quantity"`
	Slippage   float64   `json:"slippage"` // price units
	FilledAt   time.Time `json:"filled_at"`
}

// PaperSwapper simulates swaps without calling the runner. It implements
// model.Swapper.
type PaperSwapper struct {
	mu    sync.RWMutex
	fills []Fill
	seq   int64

	// basis points of slippage applied to every buy (e.g., 5 = 0.05%)
	slippageBps int
	now         func() time.Time
}

// NewPaperSwapper creates a paper swapper with the given simulated slippage.
func NewPaperSwapper(slippageBps int) *PaperSwapper {
	return &PaperSwapper{
		fills:       make([]Fill, 0, 64),
		slippageBps: slippageBps,
		now:         time.Now,
	}
}

// Fills returns a snapshot of all fills.
func (p *PaperSwapper) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Swap fills req at its reference price plus the simulated slippage. A
// simulated slippage above the request's limit is rejected the way a live
// route would be.
func (p *PaperSwapper) Swap(ctx context.Context, req model.SwapRequest) (model.Receipt, error) {
	if !(req.RefPrice > 0) || math.IsInf(req.RefPrice, 1) {
		return model.Receipt{}, fmt.Errorf("paper swap %s: no reference price", req.Asset)
	}
	if !(req.AmountUSDC > 0) {
		return model.Receipt{}, fmt.Errorf("paper swap %s: non-positive amount %.6f", req.Asset, req.AmountUSDC)
	}
	if p.slippageBps > req.MaxSlippageBps {
		return model.Receipt{}, fmt.Errorf("paper swap %s: slippage %d bps exceeds max %d bps",
			req.Asset, p.slippageBps, req.MaxSlippageBps)
	}

	// buy higher
	slippage := req.RefPrice * float64(p.slippageBps) / 10000
	fillPrice := req.RefPrice + slippage

	p.mu.Lock()
	p.seq++
	fill := Fill{
		TxSig:      fmt.Sprintf("PAPER-%d", p.seq),
		Asset:      req.Asset,
		AmountUSDC: req.AmountUSDC,
		RefPrice:   req.RefPrice,
		FillPrice:  fillPrice,
		Quantity:   req.AmountUSDC / fillPrice,
		Slippage:   slippage,
		FilledAt:   p.now(),
	}
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	slog.Info("paper fill", append(logger.LogWithTrace(ctx),
		"asset", fill.Asset, "amount_usdc", fill.AmountUSDC, "price", fill.FillPrice,
		"slip", fill.Slippage, "tx", fill.TxSig)...)

	return model.Receipt{TxSig: fill.TxSig, Price: model.Float(fillPrice)}, nil
}
