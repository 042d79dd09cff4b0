// services/payment-gateway/internal/models/conflict.go
package models

import "time"

// Conflict records a confirmation that contradicted an already settled
// transaction. Nothing consumes these automatically; operators review them.
type Conflict struct {
	ID             string            `json:"id"`
	TransactionID  string            `json:"transaction_id"`
	StoredStatus   TransactionStatus `json:"stored_status"`
	IncomingStatus TransactionStatus `json:"incoming_status"`
	Source         Channel           `json:"source"`
	GatewayMessage string            `json:"gateway_message,omitempty"`
	Raw            map[string]any    `json:"raw,omitempty"`
	DetectedAt     time.Time         `json:"detected_at"`
}

const ConflictSchema = `
CREATE TABLE IF NOT EXISTS reconciliation_conflicts (
    id UUID PRIMARY KEY,
    transaction_id VARCHAR(64) NOT NULL,
    stored_status VARCHAR(20) NOT NULL,
    incoming_status VARCHAR(20) NOT NULL,
    source VARCHAR(10) NOT NULL,
    gateway_message TEXT,
    raw JSONB,
    detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_conflicts_detected_at ON reconciliation_conflicts (detected_at DESC);
`
