package recharge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"frameworks/purser-recharge/internal/gateway"
	"frameworks/purser-recharge/internal/lease"
	"frameworks/purser-recharge/internal/ledger"
	"frameworks/purser-recharge/internal/notify"
	"frameworks/purser-recharge/internal/settings"
	"frameworks/purser-recharge/pkg/billing"
	"frameworks/purser-recharge/pkg/logging"
)

// Attempt is one organization's recharge decision within a pass. It is never persisted.
type Attempt struct {
	Config       settings.Config
	Organization ledger.Organization
	Result       gateway.Result
	Outcome      Outcome
}

// execute charges one selected organization and, on capture, posts the credit.
// processed is true only when a new credit was recorded.
func (j *Job) execute(ctx context.Context, a *Attempt) (processed bool, _ *AttemptError) {
	orgID := a.Config.OrganizationID
	log := j.logger.WithField("organization_id", orgID)

	held, err := j.locker.TryAcquire(ctx, orgID)
	if errors.Is(err, lease.ErrHeld) {
		log.Info("Organization is being recharged by another pass, skipping")
		a.Outcome = OutcomeSkipped
		return false, nil
	}
	if err != nil {
		return false, j.failed(a, OutcomeErrored, wrap(ErrLease, err))
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release organization lease")
		}
	}()

	// Another pass may have charged between selection and the lease.
	if skip, err := j.refresh(ctx, a); err != nil {
		return false, j.failed(a, OutcomeErrored, err)
	} else if skip {
		a.Outcome = OutcomeSkipped
		return false, nil
	}

	if a.Organization.PaymentProfileRef == "" {
		return false, j.failed(a, OutcomeErrored, ErrMissingProfile)
	}

	now := j.now()
	req := chargeRequest(a.Config, a.Organization.PaymentProfileRef, j.currency, now, j.idempotencyWindow)
	log = log.WithField("idempotency_key", req.IdempotencyKey)

	a.Result = j.gateway.Charge(ctx, req)
	if a.Result.TransactionID != "" {
		log = log.WithField("transaction_id", a.Result.TransactionID)
	}

	switch a.Result.Status {
	case gateway.StatusSucceeded:
		return j.post(ctx, a, now, log)

	case gateway.StatusRequiresAction:
		reason := "payment method requires customer authentication"
		attemptErr := j.failed(a, OutcomeRequiresAuth, wrap(ErrPaymentRequiresAuth, a.Result.Err))
		if err := j.configs.Disable(ctx, orgID, reason); err != nil {
			log.WithError(err).Error("Failed to disable auto-recharge after authentication failure")
			attemptErr.Err = errors.Join(attemptErr.Err, fmt.Errorf("failed to disable auto-recharge: %w", err))
			return false, attemptErr
		}
		log.Warn("Auto-recharge disabled, payment method requires authentication")
		j.notifier.Notify(notify.Notification{
			OrganizationID: orgID,
			Type:           notify.TypeAutoRechargeDisabled,
			Title:          "Auto-Recharge Disabled",
			Message:        "Your bank requires additional authentication for automatic charges. Update your payment method and re-enable auto-recharge.",
			Severity:       notify.SeverityWarning,
			Category:       notify.CategoryBilling,
			Metadata: map[string]any{
				"transaction_id": a.Result.TransactionID,
				"reason":         reason,
			},
		})
		return false, attemptErr

	case gateway.StatusDeclined:
		log.WithField("decline_code", a.Result.DeclineCode).Warn("Auto-recharge payment declined")
		return false, j.failed(a, OutcomeDeclined, wrap(ErrPaymentDeclined, a.Result.Err))

	default:
		log.WithError(a.Result.Err).Warn("Auto-recharge payment failed")
		return false, j.failed(a, OutcomeErrored, wrap(ErrPaymentError, a.Result.Err))
	}
}

// refresh re-reads config and balance under the lease and reports whether the
// organization no longer qualifies.
func (j *Job) refresh(ctx context.Context, a *Attempt) (bool, error) {
	cfg, err := j.configs.Get(ctx, a.Config.OrganizationID)
	if errors.Is(err, settings.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to re-read auto-recharge config: %w", err)
	}
	if !cfg.Enabled || cfg.PaymentMethodRef == "" || !cfg.UnderCap() {
		return true, nil
	}

	org, err := j.ledger.Balance(ctx, cfg.OrganizationID)
	if err != nil {
		return false, wrap(ErrBalanceRead, err)
	}
	a.Config = cfg
	a.Organization = org
	return org.CreditBalanceCents >= cfg.ThresholdCents, nil
}

// post records a captured charge. It runs detached from ctx cancellation.
func (j *Job) post(ctx context.Context, a *Attempt, at time.Time, log logging.Entry) (bool, *AttemptError) {
	cfg := a.Config
	orgID := cfg.OrganizationID
	txID := a.Result.TransactionID

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.postTimeout)
	defer cancel()

	res, err := j.ledger.Apply(postCtx, ledger.Entry{
		OrganizationID: orgID,
		AmountCents:    cfg.RechargeAmountCents,
		Kind:           ledger.KindCredit,
		EntryType:      ledger.EntryTypeAutoRecharge,
		Description: fmt.Sprintf("Auto-recharge (balance was %s)",
			billing.FormatCents(a.Organization.CreditBalanceCents, j.currency)),
		ReferenceID: txID,
		Metadata: map[string]any{
			"previous_balance_cents": a.Organization.CreditBalanceCents,
			"threshold_cents":        cfg.ThresholdCents,
			"payment_method_ref":     cfg.PaymentMethodRef,
		},
	}, j.configs.IncrementCounter(orgID, at))
	if err != nil {
		log.WithError(err).WithField("amount_cents", cfg.RechargeAmountCents).
			Error("Auto-recharge captured but ledger credit failed, manual reconciliation required")
		return false, j.failed(a, OutcomeLedgerFailed, fmt.Errorf("%w: transaction %s: %w", ErrLedgerPost, txID, err))
	}
	if !res.Applied {
		log.Info("Auto-recharge transaction already credited, nothing to do")
		a.Outcome = OutcomeDuplicate
		j.metrics.attempt(OutcomeDuplicate)
		return false, nil
	}

	a.Outcome = OutcomeSucceeded
	j.metrics.attempt(OutcomeSucceeded)
	j.metrics.credited(j.currency, cfg.RechargeAmountCents)
	log.WithFields(logging.Fields{
		"amount_cents":      cfg.RechargeAmountCents,
		"previous_balance":  res.PreviousBalanceCents,
		"new_balance":       res.BalanceAfterCents,
		"recharges_counted": cfg.RechargesThisMonth + 1,
	}).Info("Auto-recharge credited")

	j.notifier.Notify(notify.Notification{
		OrganizationID: orgID,
		Type:           notify.TypeAutoRechargeSucceeded,
		Title:          "Auto-Recharge Successful",
		Message: fmt.Sprintf("Your balance dropped below %s, so we added %s. New balance: %s.",
			billing.FormatCents(cfg.ThresholdCents, j.currency),
			billing.FormatCents(cfg.RechargeAmountCents, j.currency),
			billing.FormatCents(res.BalanceAfterCents, j.currency)),
		Severity: notify.SeverityInfo,
		Category: notify.CategoryBilling,
		Metadata: map[string]any{
			"transaction_id": txID,
			"amount_cents":   cfg.RechargeAmountCents,
			"balance_cents":  res.BalanceAfterCents,
		},
	})

	resumed, err := j.campaigns.Resume(postCtx, orgID)
	if err != nil {
		log.WithError(err).Error("Failed to resume credit-paused campaigns")
		return true, &AttemptError{
			OrganizationID: orgID,
			Outcome:        OutcomeSucceeded,
			Err:            wrap(ErrCampaignResume, err),
		}
	}
	j.metrics.resumed(resumed)
	return true, nil
}

func (j *Job) failed(a *Attempt, outcome Outcome, err error) *AttemptError {
	a.Outcome = outcome
	j.metrics.attempt(outcome)
	return &AttemptError{OrganizationID: a.Config.OrganizationID, Outcome: outcome, Err: err}
}
