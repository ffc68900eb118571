// Package gateway captures off-session charges against a stored payment method.
package gateway

import (
	"context"
	"fmt"
)

// Status is the classified outcome of one charge attempt.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action"
	StatusDeclined       Status = "declined"
	StatusError          Status = "error"
)

type ChargeRequest struct {
	AmountCents      int64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Description      string
	Metadata         map[string]string
}

func (r ChargeRequest) validate() error {
	switch {
	case r.AmountCents <= 0:
		return fmt.Errorf("amount must be positive, got %d", r.AmountCents)
	case r.Currency == "":
		return fmt.Errorf("currency is required")
	case r.CustomerRef == "":
		return fmt.Errorf("customer profile reference is required")
	case r.PaymentMethodRef == "":
		return fmt.Errorf("payment method reference is required")
	case r.IdempotencyKey == "":
		return fmt.Errorf("idempotency key is required")
	}
	return nil
}

// Result is what the processor reported. TransactionID may be set for
// non-successful outcomes when the processor created a transaction record.
type Result struct {
	Status        Status
	TransactionID string
	DeclineCode   string
	Err           error
}

// Gateway is the payment processor boundary. Charge never panics on
// processor failures; they come back as StatusError.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) Result
}
