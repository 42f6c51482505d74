package delegate

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"sip-agent/internal/paywall"
)

// Merchant talks to the invoice-issuing, proof-verifying delegate.
type Merchant struct {
	base
}

// NewMerchant creates a merchant client.
func NewMerchant(baseURL string, opts ...Option) *Merchant {
	return &Merchant{base: newBase("merchant", baseURL, opts)}
}

type verifyRequest struct {
	Invoice string        `json:"invoice"`
	Proof   paywall.Proof `json:"proof"`
}

type verifyResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Verify submits proof for invoice. Anything but a 200 with ok=true is a
// *paywall.PaymentVerificationError; transport failures keep their cause.
func (m *Merchant) Verify(ctx context.Context, invoice string, proof paywall.Proof) error {
	r, err := m.call(ctx, "verify", http.MethodPost, "/verify", verifyRequest{Invoice: invoice, Proof: proof})
	if err != nil {
		return &paywall.PaymentVerificationError{Invoice: invoice, Detail: err.Error(), Err: err}
	}

	var out verifyResponse
	decodeErr := json.Unmarshal(r.Body, &out)
	if r.Status == http.StatusOK && decodeErr == nil && out.OK {
		return nil
	}

	detail := out.Error
	if detail == "" {
		detail = excerpt(r.Body)
	}
	if r.Status != http.StatusOK {
		return &paywall.PaymentVerificationError{
			Invoice: invoice,
			Detail:  detail,
			Err:     &StatusError{Delegate: m.name, Op: "verify", Status: r.Status, Body: excerpt(r.Body)},
		}
	}
	return &paywall.PaymentVerificationError{Invoice: invoice, Detail: detail, Err: decodeErr}
}

// CreateInvoice asks the merchant for a fresh challenge at price. The
// merchant answers 402 with the challenge headers.
func (m *Merchant) CreateInvoice(ctx context.Context, price decimal.Decimal) (paywall.Challenge, error) {
	r, err := m.call(ctx, "invoice", http.MethodPost, "/invoice", map[string]string{"price": price.String()})
	if err != nil {
		return paywall.Challenge{}, err
	}
	if r.Status != http.StatusPaymentRequired {
		return paywall.Challenge{}, &StatusError{Delegate: m.name, Op: "invoice", Status: r.Status, Body: excerpt(r.Body)}
	}
	return paywall.ParseChallenge(r.Header)
}
