package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"frameworks/purser-recharge/pkg/clients"
	"frameworks/purser-recharge/pkg/logging"
)

const defaultTimeout = 30 * time.Second

// StripeConfig for creating a Stripe gateway
type StripeConfig struct {
	SecretKey string        // STRIPE_SECRET_KEY
	Timeout   time.Duration // GATEWAY_TIMEOUT
	Logger    logging.Logger
}

// Stripe charges stored cards with confirmed off-session PaymentIntents.
type Stripe struct {
	logger       logging.Logger
	timeout      time.Duration
	breaker      *clients.CircuitBreaker
	createIntent func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func NewStripe(cfg StripeConfig) *Stripe {
	stripe.Key = cfg.SecretKey

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Stripe{
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:         "stripe",
			Timeout:      30 * time.Second,
			FailureRatio: 0.5,
			MinRequests:  10,
			IsFailure:    isInfrastructureError,
			Logger:       cfg.Logger,
		}),
		createIntent: paymentintent.New,
	}
}

func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) Result {
	if err := req.validate(); err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("invalid charge request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	var pi *stripe.PaymentIntent
	err := s.breaker.Call(func() error {
		var callErr error
		pi, callErr = s.createIntent(params)
		return callErr
	})

	res := classify(pi, err)
	fields := logging.Fields{
		"idempotency_key": req.IdempotencyKey,
		"transaction_id":  res.TransactionID,
		"status":          res.Status,
		"amount_cents":    req.AmountCents,
	}
	if req.Metadata != nil {
		fields["organization_id"] = req.Metadata["organization_id"]
	}
	if res.Err != nil {
		s.logger.WithError(res.Err).WithFields(fields).Warn("Stripe off-session charge not captured")
	} else {
		s.logger.WithFields(fields).Info("Stripe off-session charge captured")
	}
	return res
}

// classify maps a PaymentIntent create outcome onto Status. Only a succeeded
// intent is ever reported as StatusSucceeded.
func classify(pi *stripe.PaymentIntent, err error) Result {
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) {
			res := Result{Err: err, DeclineCode: string(se.DeclineCode)}
			if se.PaymentIntent != nil {
				res.TransactionID = se.PaymentIntent.ID
			}
			switch {
			case se.Code == stripe.ErrorCodeAuthenticationRequired:
				res.Status = StatusRequiresAction
			case se.Type == stripe.ErrorTypeCard:
				res.Status = StatusDeclined
			default:
				res.Status = StatusError
			}
			return res
		}
		return Result{Status: StatusError, Err: err}
	}
	if pi == nil {
		return Result{Status: StatusError, Err: errors.New("stripe returned no payment intent")}
	}

	res := Result{TransactionID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status = StatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		res.Status = StatusRequiresAction
		res.Err = fmt.Errorf("payment intent %s requires customer authentication", pi.ID)
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		res.Status = StatusDeclined
		res.Err = fmt.Errorf("payment intent %s ended in status %s", pi.ID, pi.Status)
		if pi.LastPaymentError != nil {
			res.DeclineCode = string(pi.LastPaymentError.DeclineCode)
		}
	default:
		res.Status = StatusError
		res.Err = fmt.Errorf("payment intent %s in unexpected status %s", pi.ID, pi.Status)
	}
	return res
}

// isInfrastructureError reports whether err should count against the breaker.
// Card errors are customer outcomes, not processor unavailability.
func isInfrastructureError(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.Type != stripe.ErrorTypeCard && se.Type != stripe.ErrorTypeInvalidRequest
	}
	return true
}
