// Package settings stores per-organization auto-recharge configuration and
// the monthly recharge counter.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"frameworks/purser-recharge/internal/ledger"
)

var (
	ErrNotFound = errors.New("auto-recharge config not found")
	// ErrCapReached is returned by the counter hook when the monthly cap is
	// already used up; the surrounding ledger transaction rolls back.
	ErrCapReached = errors.New("monthly recharge cap reached")
)

// Input bounds, in minor units where money is involved.
const (
	MinThresholdCents      = 200
	MaxThresholdCents      = 10000
	MinRechargeAmountCents = 1000
	MaxRechargeAmountCents = 50000
	MinMonthlyRecharges    = 1
	MaxMonthlyRecharges    = 20

	DefaultThresholdCents      = 1000
	DefaultRechargeAmountCents = 5000
	DefaultMaxMonthlyRecharges = 5
)

type Config struct {
	OrganizationID      string
	Enabled             bool
	ThresholdCents      int64
	RechargeAmountCents int64
	MaxMonthlyRecharges int
	RechargesThisMonth  int
	MonthResetAt        time.Time
	PaymentMethodRef    string
	LastRechargeAt      *time.Time
	DisabledReason      string
	UpdatedAt           time.Time
}

// UnderCap reports whether another recharge is allowed this period.
func (c Config) UnderCap() bool {
	return c.RechargesThisMonth < c.MaxMonthlyRecharges
}

// Default is what an organization without a stored config sees.
func Default(orgID string) Config {
	return Config{
		OrganizationID:      orgID,
		Enabled:             false,
		ThresholdCents:      DefaultThresholdCents,
		RechargeAmountCents: DefaultRechargeAmountCents,
		MaxMonthlyRecharges: DefaultMaxMonthlyRecharges,
	}
}

// Clamp forces user-supplied values into the accepted ranges.
func Clamp(c Config) Config {
	c.ThresholdCents = clamp(c.ThresholdCents, MinThresholdCents, MaxThresholdCents)
	c.RechargeAmountCents = clamp(c.RechargeAmountCents, MinRechargeAmountCents, MaxRechargeAmountCents)
	c.MaxMonthlyRecharges = int(clamp(int64(c.MaxMonthlyRecharges), MinMonthlyRecharges, MaxMonthlyRecharges))
	return c
}

func clamp(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}

// NextMonthStart returns the first instant of the calendar month after now, in UTC.
func NextMonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const configColumns = `organization_id, enabled, threshold_cents, recharge_amount_cents,
		       max_monthly_recharges, recharges_this_month, month_reset_at,
		       payment_method_ref, last_recharge_at, disabled_reason, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (Config, error) {
	var (
		c              Config
		paymentMethod  sql.NullString
		lastRecharge   sql.NullTime
		disabledReason sql.NullString
	)
	if err := row.Scan(&c.OrganizationID, &c.Enabled, &c.ThresholdCents, &c.RechargeAmountCents,
		&c.MaxMonthlyRecharges, &c.RechargesThisMonth, &c.MonthResetAt,
		&paymentMethod, &lastRecharge, &disabledReason, &c.UpdatedAt); err != nil {
		return Config{}, err
	}
	c.PaymentMethodRef = paymentMethod.String
	c.DisabledReason = disabledReason.String
	if lastRecharge.Valid {
		t := lastRecharge.Time
		c.LastRechargeAt = &t
	}
	return c, nil
}

// ResetElapsed zeroes the counter of every enabled config whose reset time has
// passed and moves month_reset_at to the start of the month after now.
func (s *Store) ResetElapsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purser.auto_recharge_configs
		SET recharges_this_month = 0, month_reset_at = $1, updated_at = NOW()
		WHERE enabled = true AND month_reset_at <= $2
	`, NextMonthStart(now), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly recharge counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset result: %w", err)
	}
	return n, nil
}

// ListCandidates returns enabled configs with a bound payment method and
// remaining monthly capacity, ordered by organization id. Balance filtering is
// left to the caller so it can use a fresh read.
func (s *Store) ListCandidates(ctx context.Context) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configColumns+`
		FROM purser.auto_recharge_configs
		WHERE enabled = true
		  AND payment_method_ref IS NOT NULL
		  AND recharges_this_month < max_monthly_recharges
		ORDER BY organization_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-recharge configs: %w", err)
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auto-recharge config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auto-recharge configs: %w", err)
	}
	return configs, nil
}

func (s *Store) Get(ctx context.Context, orgID string) (Config, error) {
	c, err := scanConfig(s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM purser.auto_recharge_configs
		WHERE organization_id = $1
	`, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to get auto-recharge config: %w", err)
	}
	return c, nil
}

// Disable turns auto-recharge off and records why.
func (s *Store) Disable(ctx context.Context, orgID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purser.auto_recharge_configs
		SET enabled = false, disabled_reason = $2, updated_at = NOW()
		WHERE organization_id = $1
	`, orgID, reason)
	if err != nil {
		return fmt.Errorf("failed to disable auto-recharge: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementCounter returns a ledger hook that consumes one monthly recharge
// and stamps last_recharge_at in the ledger transaction.
func (s *Store) IncrementCounter(orgID string, at time.Time) ledger.TxHook {
	return func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE purser.auto_recharge_configs
			SET recharges_this_month = recharges_this_month + 1,
			    last_recharge_at = $2,
			    updated_at = NOW()
			WHERE organization_id = $1
			  AND recharges_this_month < max_monthly_recharges
		`, orgID, at)
		if err != nil {
			return fmt.Errorf("failed to increment recharge counter: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read counter update result: %w", err)
		}
		if n == 0 {
			return ErrCapReached
		}
		return nil
	}
}

// Upsert stores the tenant-editable fields after clamping. The counter and
// reset timestamp are only initialised on insert; re-enabling clears the
// disabled reason.
func (s *Store) Upsert(ctx context.Context, c Config) (Config, error) {
	c = Clamp(c)
	var paymentMethod sql.NullString
	if c.PaymentMethodRef != "" {
		paymentMethod = sql.NullString{String: c.PaymentMethodRef, Valid: true}
	}

	stored, err := scanConfig(s.db.QueryRowContext(ctx, `
		INSERT INTO purser.auto_recharge_configs (
			organization_id, enabled, threshold_cents, recharge_amount_cents,
			max_monthly_recharges, recharges_this_month, month_reset_at, payment_method_ref
		) VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		ON CONFLICT (organization_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			threshold_cents = EXCLUDED.threshold_cents,
			recharge_amount_cents = EXCLUDED.recharge_amount_cents,
			max_monthly_recharges = EXCLUDED.max_monthly_recharges,
			payment_method_ref = EXCLUDED.payment_method_ref,
			disabled_reason = CASE WHEN EXCLUDED.enabled THEN NULL
			                       ELSE purser.auto_recharge_configs.disabled_reason END,
			updated_at = NOW()
		RETURNING `+configColumns,
		c.OrganizationID, c.Enabled, c.ThresholdCents, c.RechargeAmountCents,
		c.MaxMonthlyRecharges, NextMonthStart(s.now()), paymentMethod))
	if err != nil {
		return Config{}, fmt.Errorf("failed to upsert auto-recharge config: %w", err)
	}
	return stored, nil
}
