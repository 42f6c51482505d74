package paywall

// ChainSolana is the only settlement chain.
const ChainSolana = "solana"

// Proof is the evidence of payment submitted to the merchant.
type Proof struct {
	Chain  string `json:"chain"`
	TxID   string `json:"txid"`
	Mint   string `json:"mint"`
	Amount int64  `json:"amount"`
}

// NewProof builds a Solana proof for a settled challenge.
func NewProof(txID, mint string, atoms int64) Proof {
	return Proof{Chain: ChainSolana, TxID: txID, Mint: mint, Amount: atoms}
}
