package paywall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sip-agent/internal/model"
)

// State is a payment session's position in the handshake.
type State int

const (
	StateUnpaid State = iota
	StatePaid
)

func (s State) String() string {
	switch s {
	case StateUnpaid:
		return "unpaid"
	case StatePaid:
		return "paid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session carries one fetch through the handshake. It is created per Do
// call and never shared, so a proof cannot leak into another request.
type Session struct {
	state     State
	challenge Challenge
	txID      string
}

// State reports the session's current state.
func (s *Session) State() State { return s.state }

// Challenge returns the challenge being settled.
func (s *Session) Challenge() Challenge { return s.challenge }

// TxID is the verified payment transaction; empty until Paid.
func (s *Session) TxID() string { return s.txID }

// Settle pays the challenge and has the merchant verify the proof. On
// success the session moves Unpaid → Paid. Any failure leaves it Unpaid.
func (s *Session) Settle(ctx context.Context, ch Challenge, payer Payer, verifier Verifier, mint string, timeout time.Duration) error {
	if s.state != StateUnpaid {
		return fmt.Errorf("x402 session already %s", s.state)
	}
	s.challenge = ch
	atoms := ch.Atoms()

	payCtx, cancel := withTimeout(ctx, timeout)
	txID, err := payer.Pay(payCtx, ch.PayTo, atoms)
	cancel()
	if err != nil {
		return &PaymentExecutionError{PayTo: ch.PayTo, Atoms: atoms, Err: model.AsTimeout("pay", err)}
	}
	if txID == "" {
		return &PaymentExecutionError{PayTo: ch.PayTo, Atoms: atoms, Err: errors.New("no transaction id returned")}
	}

	verifyCtx, cancel := withTimeout(ctx, timeout)
	err = verifier.Verify(verifyCtx, ch.InvoiceID, NewProof(txID, mint, atoms))
	cancel()
	if err != nil {
		var pve *PaymentVerificationError
		if errors.As(err, &pve) {
			return err
		}
		return &PaymentVerificationError{Invoice: ch.InvoiceID, Detail: err.Error(), Err: model.AsTimeout("verify", err)}
	}

	s.txID = txID
	s.state = StatePaid
	return nil
}

// Decorate attaches the correlation headers for the replayed request.
func (s *Session) Decorate(h http.Header) {
	if s.state != StatePaid {
		return
	}
	h.Set(HeaderInvoice, s.challenge.InvoiceID)
	h.Set(HeaderVerifiedTx, s.txID)
	h.Set(HeaderCurrency, s.challenge.Currency)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
