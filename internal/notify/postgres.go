package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PostgresSink writes tenant-visible notifications to purser.notifications.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Send(ctx context.Context, n Notification) error {
	metadata := []byte("{}")
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode notification metadata: %w", err)
		}
		metadata = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purser.notifications (
			id, organization_id, type, title, message, severity, category, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New().String(), n.OrganizationID, n.Type, n.Title, n.Message, n.Severity, n.Category, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}
