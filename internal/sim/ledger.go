package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sip-agent/internal/paywall"
)

// invoice is one issued payment challenge.
type invoice struct {
	ID       string
	Price    decimal.Decimal
	PayTo    string
	Atoms    int64
	TxID     string // set once verified
	Consumed bool   // set once the paid resource was served
}

// payment is one transfer executed by the runner.
type payment struct {
	TxID  string
	To    string
	Mint  string
	Atoms int64
}

// Fill is one executed swap.
type Fill struct {
	TxSig      string
	Asset      string
	AmountUSDC float64
	Price      float64
}

// Ledger is the simulator's in-memory state.
type Ledger struct {
	mu       sync.Mutex
	invoices map[string]*invoice
	payments map[string]payment
	boundTx  map[string]string // txid -> invoice it settled
	fills    []Fill
}

func newLedger() *Ledger {
	return &Ledger{
		invoices: make(map[string]*invoice),
		payments: make(map[string]payment),
		boundTx:  make(map[string]string),
	}
}

func (l *Ledger) issue(price decimal.Decimal, payTo string) paywall.Challenge {
	ch := paywall.Challenge{
		Price:       price,
		Currency:    "USDC",
		PayTo:       payTo,
		InvoiceID:   "inv_" + uuid.NewString(),
		Description: "token data",
	}
	l.mu.Lock()
	l.invoices[ch.InvoiceID] = &invoice{ID: ch.InvoiceID, Price: price, PayTo: payTo, Atoms: ch.Atoms()}
	l.mu.Unlock()
	return ch
}

func (l *Ledger) pay(to, mint string, atoms int64) string {
	tx := uuid.NewString()
	l.mu.Lock()
	l.payments[tx] = payment{TxID: tx, To: to, Mint: mint, Atoms: atoms}
	l.mu.Unlock()
	return tx
}

var (
	errUnknownInvoice = errors.New("unknown invoice")
	errUnknownTx      = errors.New("unknown transaction")
	errAlreadyUsed    = errors.New("invoice already verified with another transaction")
	errTxReused       = errors.New("transaction already settled another invoice")
)

// verify checks that proof's transaction pays the invoice in full with the
// expected mint, and binds the transaction to the invoice.
func (l *Ledger) verify(invoiceID string, proof paywall.Proof, mint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.invoices[invoiceID]
	if !ok {
		return errUnknownInvoice
	}
	p, ok := l.payments[proof.TxID]
	if !ok {
		return errUnknownTx
	}
	if inv.TxID != "" && inv.TxID != p.TxID {
		return errAlreadyUsed
	}
	if bound, ok := l.boundTx[p.TxID]; ok && bound != inv.ID {
		return errTxReused
	}
	switch {
	case proof.Chain != paywall.ChainSolana:
		return fmt.Errorf("unsupported chain %q", proof.Chain)
	case p.To != inv.PayTo:
		return fmt.Errorf("paid %s, invoice pays %s", p.To, inv.PayTo)
	case mint != "" && p.Mint != mint:
		return fmt.Errorf("paid in mint %s, want %s", p.Mint, mint)
	case proof.Amount != p.Atoms:
		return fmt.Errorf("proof claims %d atoms, transaction moved %d", proof.Amount, p.Atoms)
	case p.Atoms < inv.Atoms:
		return fmt.Errorf("paid %d atoms, invoice requires %d", p.Atoms, inv.Atoms)
	}
	inv.TxID = p.TxID
	l.boundTx[p.TxID] = inv.ID
	return nil
}

// redeem consumes a verified invoice for one data response.
func (l *Ledger) redeem(invoiceID, txID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.invoices[invoiceID]
	if !ok || inv.Consumed || inv.TxID == "" || inv.TxID != txID {
		return false
	}
	inv.Consumed = true
	return true
}

func (l *Ledger) recordFill(f Fill) {
	l.mu.Lock()
	l.fills = append(l.fills, f)
	l.mu.Unlock()
}

// Stats summarises the ledger.
type Stats struct {
	Invoices  int   `json:"invoices"`
	Verified  int   `json:"verified"`
	Served    int   `json:"served"`
	Payments  int   `json:"payments"`
	PaidAtoms int64 `json:"paid_atoms"`
	Swaps     int   `json:"swaps"`
}

func (l *Ledger) stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Invoices: len(l.invoices), Payments: len(l.payments), Swaps: len(l.fills)}
	for _, inv := range l.invoices {
		if inv.TxID != "" {
			s.Verified++
		}
		if inv.Consumed {
			s.Served++
		}
	}
	for _, p := range l.payments {
		s.PaidAtoms += p.Atoms
	}
	return s
}

// Fills returns a copy of the executed swaps.
func (l *Ledger) Fills() []Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Fill(nil), l.fills...)
}
