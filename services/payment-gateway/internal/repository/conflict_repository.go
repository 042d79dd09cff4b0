// services/payment-gateway/internal/repository/conflict_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"globalpay/services/payment-gateway/internal/models"
)

type ConflictRepository struct {
	db *sql.DB
}

func NewConflictRepository(db *sql.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// RecordConflict stores c, assigning an id when it has none.
func (r *ConflictRepository) RecordConflict(ctx context.Context, c *models.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	var raw sql.NullString
	if c.Raw != nil {
		data, err := json.Marshal(c.Raw)
		if err != nil {
			return fmt.Errorf("marshal conflict payload: %w", err)
		}
		raw = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO reconciliation_conflicts (
			id, transaction_id, stored_status, incoming_status, source, gateway_message, raw, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.TransactionID,
		c.StoredStatus,
		c.IncomingStatus,
		c.Source,
		c.GatewayMessage,
		raw,
		c.DetectedAt,
	)
	return err
}

// ListConflicts returns the most recent conflicts first.
func (r *ConflictRepository) ListConflicts(ctx context.Context, limit int) ([]models.Conflict, error) {
	query := `
		SELECT id, transaction_id, stored_status, incoming_status, source,
		       COALESCE(gateway_message, ''), raw, detected_at
		FROM reconciliation_conflicts
		ORDER BY detected_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conflicts := []models.Conflict{}
	for rows.Next() {
		var (
			c   models.Conflict
			raw []byte
		)
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.StoredStatus, &c.IncomingStatus,
			&c.Source, &c.GatewayMessage, &raw, &c.DetectedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &c.Raw); err != nil {
				return nil, fmt.Errorf("decode conflict payload %s: %w", c.ID, err)
			}
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
