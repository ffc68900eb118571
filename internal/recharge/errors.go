package recharge

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigFetch aborts the whole pass.
	ErrConfigFetch = errors.New("failed to fetch auto-recharge configurations")

	ErrPaymentDeclined     = errors.New("payment declined")
	ErrPaymentRequiresAuth = errors.New("payment requires authentication, disabling auto-recharge")
	ErrPaymentError        = errors.New("payment error")
	ErrMissingProfile      = errors.New("organization has no payment profile")
	ErrLease               = errors.New("failed to acquire organization lease")
	ErrBalanceRead         = errors.New("failed to read organization balance")

	// ErrLedgerPost means money was captured but the credit was not recorded.
	// These need manual reconciliation and are never retried within a pass.
	ErrLedgerPost = errors.New("charge captured but ledger credit failed, manual reconciliation required")

	ErrCampaignResume = errors.New("failed to resume credit-paused campaigns")
	ErrCounterReset   = errors.New("failed to reset monthly recharge counters")
)

// Outcome is the terminal state of one organization's attempt in a pass.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeDeclined     Outcome = "declined"
	OutcomeRequiresAuth Outcome = "requires_auth"
	OutcomeErrored      Outcome = "errored"
	OutcomeLedgerFailed Outcome = "ledger_failed"
	OutcomeSkipped      Outcome = "skipped"
)

// AttemptError is one organization's failure, as reported in the pass result.
type AttemptError struct {
	OrganizationID string
	Outcome        Outcome
	Err            error
}

func (e *AttemptError) Error() string {
	if e.OrganizationID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("organization %s: %v", e.OrganizationID, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// wrap attaches cause to a taxonomy sentinel; a nil cause yields the sentinel alone.
func wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
