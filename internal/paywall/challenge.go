// Package paywall implements the client side of the HTTP 402 payment
// handshake: a priced resource answers 402 with a challenge, the client
// pays the invoice, has the merchant verify the proof and replays the
// request with correlation headers attached.
package paywall

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Challenge and correlation headers.
const (
	HeaderPrice       = "X-402-Price"
	HeaderCurrency    = "X-402-Currency"
	HeaderPayTo       = "X-402-PayTo"
	HeaderInvoice     = "X-402-Invoice"
	HeaderDescription = "X-402-Description"
	HeaderVerifiedTx  = "X-402-Verified-Tx"
)

// TokenDecimals is the settlement token's precision (USDC).
const TokenDecimals = 6

// Challenge is a parsed 402 response.
type Challenge struct {
	Price       decimal.Decimal
	Currency    string
	PayTo       string
	InvoiceID   string
	Description string
}

// ParseChallenge reads a challenge from 402 response headers. A missing or
// unparsable required field yields *ProtocolError.
func ParseChallenge(h http.Header) (Challenge, error) {
	var c Challenge
	required := []struct {
		header string
		dst    *string
	}{
		{HeaderCurrency, &c.Currency},
		{HeaderPayTo, &c.PayTo},
		{HeaderInvoice, &c.InvoiceID},
	}

	rawPrice := strings.TrimSpace(h.Get(HeaderPrice))
	if rawPrice == "" {
		return Challenge{}, &ProtocolError{Field: HeaderPrice, Detail: "missing"}
	}
	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return Challenge{}, &ProtocolError{Field: HeaderPrice, Detail: "unparsable " + rawPrice}
	}
	if !price.IsPositive() {
		return Challenge{}, &ProtocolError{Field: HeaderPrice, Detail: "non-positive " + rawPrice}
	}
	c.Price = price

	for _, r := range required {
		v := strings.TrimSpace(h.Get(r.header))
		if v == "" {
			return Challenge{}, &ProtocolError{Field: r.header, Detail: "missing"}
		}
		*r.dst = v
	}
	c.Description = h.Get(HeaderDescription)
	return c, nil
}

// Atoms converts the price to the token's smallest unit, rounding half away
// from zero.
func (c Challenge) Atoms() int64 {
	return c.Price.Shift(TokenDecimals).Round(0).IntPart()
}

// WriteHeaders sets the challenge headers on h. Servers issuing challenges
// use it.
func (c Challenge) WriteHeaders(h http.Header) {
	h.Set(HeaderPrice, c.Price.String())
	h.Set(HeaderCurrency, c.Currency)
	h.Set(HeaderPayTo, c.PayTo)
	h.Set(HeaderInvoice, c.InvoiceID)
	if c.Description != "" {
		h.Set(HeaderDescription, c.Description)
	}
}
