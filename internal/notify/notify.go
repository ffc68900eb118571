// Package notify delivers tenant notifications and billing events. Delivery is
// best-effort: callers hand a Notification to a Dispatcher and never observe
// the outcome.
package notify

import (
	"context"
	"errors"
)

const (
	TypeAutoRechargeSucceeded = "auto_recharge_succeeded"
	TypeAutoRechargeDisabled  = "auto_recharge_disabled"
	TypeCampaignResumed       = "campaign_resumed"

	SeverityInfo    = "info"
	SeverityWarning = "warning"

	CategoryBilling  = "billing"
	CategoryCampaign = "campaign"
)

type Notification struct {
	OrganizationID string         `json:"organization_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Severity       string         `json:"severity"`
	Category       string         `json:"category"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Sink persists or publishes one notification.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier accepts notifications without reporting delivery errors.
type Notifier interface {
	Notify(n Notification)
}

// Multi sends to every sink and joins the failures.
type Multi []Sink

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(Notification) {}
