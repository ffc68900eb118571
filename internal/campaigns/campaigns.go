// Package campaigns owns the credit-gate transition of campaigns: campaigns
// paused for insufficient credit are resumed once a recharge lands.
package campaigns

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"frameworks/purser-recharge/internal/notify"
	"frameworks/purser-recharge/pkg/logging"
)

const (
	StatusRunning = "running"
	StatusPaused  = "paused"

	// PausedReasonInsufficientCredits is the only pause reason this package clears.
	PausedReasonInsufficientCredits = "insufficient_credits"
)

type Campaign struct {
	ID             string
	OrganizationID string
	Name           string
	Status         string
	UpdatedAt      time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ResumeCreditPaused moves the organization's credit-paused campaigns back to
// running and returns them. Campaigns paused for other reasons are untouched.
func (s *Store) ResumeCreditPaused(ctx context.Context, orgID string) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE purser.campaigns
		SET status = $2, paused_reason = NULL, updated_at = NOW()
		WHERE organization_id = $1
		  AND status = $3
		  AND paused_reason = $4
		RETURNING id, organization_id, name, status, updated_at
	`, orgID, StatusRunning, StatusPaused, PausedReasonInsufficientCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to resume campaigns: %w", err)
	}
	defer rows.Close()

	var resumed []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resumed campaign: %w", err)
		}
		resumed = append(resumed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resumed campaigns: %w", err)
	}
	return resumed, nil
}

type resumeStore interface {
	ResumeCreditPaused(ctx context.Context, orgID string) ([]Campaign, error)
}

// Resumer resumes credit-gated campaigns and tells the tenant about each one.
type Resumer struct {
	store    resumeStore
	notifier notify.Notifier
	logger   logging.Logger
}

func NewResumer(store resumeStore, notifier notify.Notifier, logger logging.Logger) *Resumer {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Resumer{store: store, notifier: notifier, logger: logger}
}

// Resume returns the number of campaigns moved back to running. Having none
// paused is not an error.
func (r *Resumer) Resume(ctx context.Context, orgID string) (int, error) {
	resumed, err := r.store.ResumeCreditPaused(ctx, orgID)
	if err != nil {
		return 0, err
	}

	for _, c := range resumed {
		r.logger.WithFields(logging.Fields{
			"organization_id": orgID,
			"campaign_id":     c.ID,
		}).Info("Resumed campaign paused for insufficient credits")

		r.notifier.Notify(notify.Notification{
			OrganizationID: orgID,
			Type:           notify.TypeCampaignResumed,
			Title:          "Campaign Resumed",
			Message:        fmt.Sprintf("Campaign %q has resumed now that your credit balance has been topped up.", c.Name),
			Severity:       notify.SeverityInfo,
			Category:       notify.CategoryCampaign,
			Metadata: map[string]any{
				"campaign_id": c.ID,
			},
		})
	}
	return len(resumed), nil
}
