package delegate

import (
	"context"

	"sip-agent/internal/model"
)

// Runner talks to the payment and swap execution delegate.
type Runner struct {
	base
	mint string
}

// NewRunner creates a runner client paying in the given token mint.
func NewRunner(baseURL, mint string, opts ...Option) *Runner {
	return &Runner{base: newBase("runner", baseURL, opts), mint: mint}
}

type payRequest struct {
	ToOwner   string `json:"to_owner"`
	Mint      string `json:"mint"`
	AmountRaw int64  `json:"amount_raw"`
}

// Pay transfers atoms of the settlement token to payTo and returns the
// transaction id. An empty id is returned as is; the caller decides.
func (r *Runner) Pay(ctx context.Context, payTo string, atoms int64) (string, error) {
	var out struct {
		TxID string `json:"txid"`
	}
	err := r.postJSON(ctx, "pay", "/pay/usdc", payRequest{ToOwner: payTo, Mint: r.mint, AmountRaw: atoms}, &out)
	if err != nil {
		return "", err
	}
	return out.TxID, nil
}

// Swap buys req.AmountUSDC worth of req.Asset.
func (r *Runner) Swap(ctx context.Context, req model.SwapRequest) (model.Receipt, error) {
	var out model.Receipt
	if err := r.postJSON(ctx, "swap", "/swap", req, &out); err != nil {
		return model.Receipt{}, err
	}
	if out.TxSig == "" {
		return model.Receipt{}, &model.MalformedResponseError{Detail: "runner swap: missing txSig"}
	}
	return out, nil
}
