// Package ledger is the append-only credit/debit record per organization and
// the only writer of the organization's materialized credit balance.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// EntryTypeAutoRecharge marks credits posted by the auto-recharge pass.
const EntryTypeAutoRecharge = "auto_recharge"

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrInvalidEntry         = errors.New("invalid ledger entry")
)

// Organization is the subset of the organization record the ledger owns.
type Organization struct {
	ID                 string
	Name               string
	CreditBalanceCents int64
	Currency           string
	PaymentProfileRef  string
}

// Entry is one immutable ledger row. AmountCents is the unsigned magnitude;
// Kind decides the sign applied to the balance.
type Entry struct {
	ID                string         `json:"id"`
	OrganizationID    string         `json:"organization_id"`
	AmountCents       int64          `json:"amount_cents"`
	BalanceAfterCents int64          `json:"balance_after_cents"`
	Kind              Kind           `json:"kind"`
	EntryType         string         `json:"entry_type"`
	Description       string         `json:"description"`
	ReferenceID       string         `json:"reference_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

func (e Entry) signedAmount() int64 {
	if e.Kind == KindDebit {
		return -e.AmountCents
	}
	return e.AmountCents
}

func (e Entry) validate() error {
	switch {
	case e.OrganizationID == "":
		return fmt.Errorf("%w: organization id is required", ErrInvalidEntry)
	case e.AmountCents <= 0:
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidEntry, e.AmountCents)
	case e.Kind != KindCredit && e.Kind != KindDebit:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	case e.EntryType == "":
		return fmt.Errorf("%w: entry type is required", ErrInvalidEntry)
	}
	return nil
}

// Result reports what Apply did. Applied is false when an entry with the same
// (reference_id, kind, entry_type) already existed; balances are then unchanged.
type Result struct {
	Applied              bool
	EntryID              string
	PreviousBalanceCents int64
	BalanceAfterCents    int64
}

// TxHook runs inside the Apply transaction after the entry and balance are
// written. An error rolls the whole posting back.
type TxHook func(ctx context.Context, tx *sql.Tx) error

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Balance returns a fresh read of the organization's balance and payment profile.
func (s *Store) Balance(ctx context.Context, orgID string) (Organization, error) {
	var (
		org     Organization
		profile sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, credit_balance_cents, currency, payment_profile_ref
		FROM purser.organizations
		WHERE id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.CreditBalanceCents, &org.Currency, &profile)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgID)
	}
	if err != nil {
		return Organization{}, fmt.Errorf("failed to read organization balance: %w", err)
	}
	org.PaymentProfileRef = profile.String
	return org, nil
}

// Apply appends the entry and updates the derived balance atomically.
func (s *Store) Apply(ctx context.Context, entry Entry, hooks ...TxHook) (Result, error) {
	if err := entry.validate(); err != nil {
		return Result{}, err
	}

	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return Result{}, fmt.Errorf("failed to encode ledger metadata: %w", err)
		}
		metadata = b
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT credit_balance_cents FROM purser.organizations
		WHERE id = $1
		FOR UPDATE
	`, entry.OrganizationID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("%w: %s", ErrOrganizationNotFound, entry.OrganizationID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to lock organization balance: %w", err)
	}

	newBalance := current + entry.signedAmount()
	entryID := uuid.New().String()
	var reference sql.NullString
	if entry.ReferenceID != "" {
		reference = sql.NullString{String: entry.ReferenceID, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO purser.ledger_entries (
			id, organization_id, amount_cents, balance_after_cents,
			kind, entry_type, description, reference_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reference_id, kind, entry_type) WHERE reference_id IS NOT NULL DO NOTHING
	`, entryID, entry.OrganizationID, entry.signedAmount(), newBalance,
		string(entry.Kind), entry.EntryType, entry.Description, reference, string(metadata), s.now())
	if err != nil {
		return Result{}, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read ledger insert result: %w", err)
	}
	if inserted == 0 {
		if err := tx.Commit(); err != nil {
			return Result{}, fmt.Errorf("failed to commit ledger transaction: %w", err)
		}
		return Result{Applied: false, PreviousBalanceCents: current, BalanceAfterCents: current}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE purser.organizations
		SET credit_balance_cents = $1, updated_at = NOW()
		WHERE id = $2
	`, newBalance, entry.OrganizationID); err != nil {
		return Result{}, fmt.Errorf("failed to update organization balance: %w", err)
	}

	for _, hook := range hooks {
		if err := hook(ctx, tx); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	return Result{
		Applied:              true,
		EntryID:              entryID,
		PreviousBalanceCents: current,
		BalanceAfterCents:    newBalance,
	}, nil
}

// ListEntries returns the newest entries of one type for an organization.
func (s *Store) ListEntries(ctx context.Context, orgID, entryType string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, amount_cents, balance_after_cents, kind, entry_type,
		       description, reference_id, metadata, created_at
		FROM purser.ledger_entries
		WHERE organization_id = $1 AND entry_type = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, orgID, entryType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			kind      string
			reference sql.NullString
			metadata  []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.AmountCents, &e.BalanceAfterCents, &kind,
			&e.EntryType, &e.Description, &reference, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = Kind(kind)
		if e.AmountCents < 0 {
			e.AmountCents = -e.AmountCents
		}
		e.ReferenceID = reference.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode ledger metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}
