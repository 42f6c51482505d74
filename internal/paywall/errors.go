package paywall

import "fmt"

// ProtocolError reports a malformed or incomplete payment challenge.
type ProtocolError struct {
	Field  string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("x402 protocol: %s %s", e.Field, e.Detail)
}

// PaymentExecutionError reports a failed payment or one that returned no
// transaction id.
type PaymentExecutionError struct {
	PayTo string
	Atoms int64
	Err   error
}

func (e *PaymentExecutionError) Error() string {
	return fmt.Sprintf("x402 payment of %d atoms to %s failed: %v", e.Atoms, e.PayTo, e.Err)
}

func (e *PaymentExecutionError) Unwrap() error { return e.Err }

// PaymentVerificationError reports a proof the merchant did not accept.
type PaymentVerificationError struct {
	Invoice string
	Detail  string
	Err     error
}

func (e *PaymentVerificationError) Error() string {
	return fmt.Sprintf("x402 verification of invoice %s failed: %s", e.Invoice, e.Detail)
}

func (e *PaymentVerificationError) Unwrap() error { return e.Err }
