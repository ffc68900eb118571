// Package recharge runs the auto-recharge reconciliation pass: monthly counter
// rollover, eligibility selection, off-session capture, ledger posting and
// credit-gate campaign resumption.
package recharge

import (
	"context"
	"errors"
	"time"

	"frameworks/purser-recharge/internal/gateway"
	"frameworks/purser-recharge/internal/lease"
	"frameworks/purser-recharge/internal/ledger"
	"frameworks/purser-recharge/internal/notify"
	"frameworks/purser-recharge/internal/settings"
	"frameworks/purser-recharge/pkg/logging"
)

// DefaultPostTimeout bounds ledger posting when Deps.PostTimeout is unset.
const DefaultPostTimeout = 30 * time.Second

type ConfigStore interface {
	ResetElapsed(ctx context.Context, now time.Time) (int64, error)
	ListCandidates(ctx context.Context) ([]settings.Config, error)
	Get(ctx context.Context, orgID string) (settings.Config, error)
	Disable(ctx context.Context, orgID, reason string) error
	IncrementCounter(orgID string, at time.Time) ledger.TxHook
}

type LedgerStore interface {
	Balance(ctx context.Context, orgID string) (ledger.Organization, error)
	Apply(ctx context.Context, entry ledger.Entry, hooks ...ledger.TxHook) (ledger.Result, error)
}

type CampaignResumer interface {
	Resume(ctx context.Context, orgID string) (int, error)
}

// Deps wires a Job. Locker, Notifier and Metrics are optional.
type Deps struct {
	Configs   ConfigStore
	Ledger    LedgerStore
	Gateway   gateway.Gateway
	Campaigns CampaignResumer
	Locker    lease.Locker
	Notifier  notify.Notifier
	Metrics   *Metrics
	Logger    logging.Logger

	Currency          string
	IdempotencyWindow time.Duration
	// PostTimeout bounds ledger posting after a capture. Posting is detached
	// from caller cancellation so a captured charge is always recorded or reported.
	PostTimeout time.Duration
}

type Job struct {
	configs   ConfigStore
	ledger    LedgerStore
	gateway   gateway.Gateway
	campaigns CampaignResumer
	locker    lease.Locker
	notifier  notify.Notifier
	metrics   *Metrics
	logger    logging.Logger

	currency          string
	idempotencyWindow time.Duration
	postTimeout       time.Duration
	now               func() time.Time
}

func New(d Deps) *Job {
	if d.Locker == nil {
		d.Locker = lease.Noop{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	if d.Currency == "" {
		d.Currency = "EUR"
	}
	if d.IdempotencyWindow <= 0 {
		d.IdempotencyWindow = time.Hour
	}
	if d.PostTimeout <= 0 {
		d.PostTimeout = DefaultPostTimeout
	}
	return &Job{
		configs:           d.Configs,
		ledger:            d.Ledger,
		gateway:           d.Gateway,
		campaigns:         d.Campaigns,
		locker:            d.Locker,
		notifier:          d.Notifier,
		metrics:           d.Metrics,
		logger:            d.Logger,
		currency:          d.Currency,
		idempotencyWindow: d.IdempotencyWindow,
		postTimeout:       d.PostTimeout,
		now:               time.Now,
	}
}

// Report is the pass result returned to the trigger.
type Report struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`

	Reset    int64           `json:"-"`
	Eligible int             `json:"-"`
	Failures []*AttemptError `json:"-"`
}

func (r *Report) fail(err *AttemptError) {
	r.Failures = append(r.Failures, err)
	r.Errors = append(r.Errors, err.Error())
}

// RunPass executes one full pass. Only a failure to list configurations is
// returned as an error; everything else is isolated per organization and
// collected in the report.
func (j *Job) RunPass(ctx context.Context) (Report, error) {
	start := j.now()
	report := Report{Errors: []string{}}

	reset, err := j.configs.ResetElapsed(ctx, start)
	if err != nil {
		j.logger.WithError(err).Error("Failed to reset monthly recharge counters")
		report.fail(&AttemptError{Outcome: OutcomeErrored, Err: wrap(ErrCounterReset, err)})
	} else {
		report.Reset = reset
		j.metrics.reset(reset)
	}

	candidates, err := j.configs.ListCandidates(ctx)
	if err != nil {
		j.metrics.pass("error", time.Since(start).Seconds(), 0)
		j.logger.WithError(err).Error("Auto-recharge pass aborted")
		return report, wrap(ErrConfigFetch, err)
	}

	attempts := j.selectEligible(ctx, candidates, &report)
	report.Eligible = len(attempts)

	for _, attempt := range attempts {
		processed, attemptErr := j.execute(ctx, attempt)
		if processed {
			report.Processed++
		}
		if attemptErr != nil {
			report.fail(attemptErr)
		}
	}

	finished := j.now()
	j.metrics.pass("ok", finished.Sub(start).Seconds(), finished.Unix())
	j.logger.WithFields(logging.Fields{
		"reset":     report.Reset,
		"eligible":  report.Eligible,
		"processed": report.Processed,
		"errors":    len(report.Errors),
		"duration":  finished.Sub(start).String(),
	}).Info("Auto-recharge pass completed")

	return report, nil
}

// selectEligible keeps candidates whose freshly read balance is below
// threshold, preserving candidate order.
func (j *Job) selectEligible(ctx context.Context, candidates []settings.Config, report *Report) []*Attempt {
	attempts := make([]*Attempt, 0, len(candidates))
	for _, cfg := range candidates {
		if !cfg.Enabled || cfg.PaymentMethodRef == "" || !cfg.UnderCap() {
			continue
		}

		org, err := j.ledger.Balance(ctx, cfg.OrganizationID)
		if errors.Is(err, ledger.ErrOrganizationNotFound) {
			j.logger.WithField("organization_id", cfg.OrganizationID).
				Warn("Auto-recharge config has no matching organization, skipping")
			continue
		}
		if err != nil {
			report.fail(&AttemptError{
				OrganizationID: cfg.OrganizationID,
				Outcome:        OutcomeErrored,
				Err:            wrap(ErrBalanceRead, err),
			})
			continue
		}

		if org.CreditBalanceCents >= cfg.ThresholdCents {
			continue
		}
		attempts = append(attempts, &Attempt{Config: cfg, Organization: org})
	}
	return attempts
}
