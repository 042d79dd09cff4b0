// services/payment-gateway/internal/service/interfaces.go
package service

import (
	"context"
	"time"

	"globalpay/services/payment-gateway/internal/audit"
	"globalpay/services/payment-gateway/internal/models"
)

// TransactionStore is the slice of the order system's transaction table this
// service reads and writes.
type TransactionStore interface {
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
	FindByVendorReference(ctx context.Context, vendorReference string) (*models.Transaction, error)
	ConditionalUpdateStatus(ctx context.Context, id string, expected, next models.TransactionStatus, vendorReference string, provenance *models.Provenance) (int64, error)
	SaveGatewayLinkage(ctx context.Context, id, tradeReference string, method models.PaymentMethod, initiatedAt time.Time) error
}

// KeyValueStore holds short-lived entries: redirect payloads and replay markers.
type KeyValueStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	GetDel(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

type ConflictRecorder interface {
	RecordConflict(ctx context.Context, c *models.Conflict) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event interface{}) error
}

type ReceiptRecorder interface {
	Record(ctx context.Context, receipt audit.Receipt) error
}

// Cipher is the gateway payload codec.
type Cipher interface {
	Encrypt(fields map[string]any) (string, error)
	Decrypt(ciphertext string) (map[string]any, error)
	Sign(payload []byte) []byte
	VerifySignature(payload, signature []byte) bool
}

type TradeReferences interface {
	Encode(transactionID string) (string, error)
	Decode(ref string) (string, bool)
}

// Confirmer applies a decrypted confirmation to its transaction.
type Confirmer interface {
	Reconcile(ctx context.Context, payload map[string]any, source models.Channel) (ReconcileResult, error)
}
