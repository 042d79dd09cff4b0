// services/payment-gateway/internal/repository/transaction_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"globalpay/services/payment-gateway/internal/models"
)

var ErrNotPending = errors.New("transaction is missing or no longer pending")

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, amount, status, vendor_reference, trade_reference, payment_method,
	initiated_at, provenance, created_at, updated_at`

// Create inserts a transaction. Production rows come from the order system;
// this exists for seeding and tests.
func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	if txn.Status == "" {
		txn.Status = models.TransactionStatusPending
	}

	_, err := r.db.ExecContext(ctx, query,
		txn.ID,
		txn.Amount,
		txn.Status,
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	return err
}

// FindByID returns nil, nil when the transaction does not exist.
func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *TransactionRepository) FindByVendorReference(ctx context.Context, vendorReference string) (*models.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE vendor_reference = $1 LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, vendorReference))
}

// ConditionalUpdateStatus moves a transaction from expected to next only if
// its status is still expected, and returns the number of rows changed.
// A blank vendorReference leaves the stored one untouched.
func (r *TransactionRepository) ConditionalUpdateStatus(
	ctx context.Context,
	id string,
	expected, next models.TransactionStatus,
	vendorReference string,
	provenance *models.Provenance,
) (int64, error) {
	var provenanceJSON sql.NullString
	if provenance != nil {
		data, err := json.Marshal(provenance)
		if err != nil {
			return 0, fmt.Errorf("marshal provenance: %w", err)
		}
		provenanceJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		UPDATE transactions
		SET status = $3,
		    vendor_reference = COALESCE(NULLIF($4, ''), vendor_reference),
		    provenance = COALESCE($5::jsonb, provenance),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, expected, next, vendorReference, provenanceJSON)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveGatewayLinkage records how a pending transaction was sent to the gateway.
func (r *TransactionRepository) SaveGatewayLinkage(
	ctx context.Context,
	id, tradeReference string,
	method models.PaymentMethod,
	initiatedAt time.Time,
) error {
	query := `
		UPDATE transactions
		SET trade_reference = $2, payment_method = $3, initiated_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, id, tradeReference, string(method), initiatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *TransactionRepository) scanOne(row *sql.Row) (*models.Transaction, error) {
	var (
		txn             models.Transaction
		vendorReference sql.NullString
		tradeReference  sql.NullString
		paymentMethod   sql.NullString
		initiatedAt     sql.NullTime
		provenance      []byte
	)

	err := row.Scan(
		&txn.ID,
		&txn.Amount,
		&txn.Status,
		&vendorReference,
		&tradeReference,
		&paymentMethod,
		&initiatedAt,
		&provenance,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	txn.VendorReference = vendorReference.String
	txn.TradeReference = tradeReference.String
	txn.PaymentMethod = models.PaymentMethod(paymentMethod.String)
	if initiatedAt.Valid {
		t := initiatedAt.Time
		txn.InitiatedAt = &t
	}
	if len(provenance) > 0 {
		txn.Provenance = &models.Provenance{}
		if err := json.Unmarshal(provenance, txn.Provenance); err != nil {
			return nil, fmt.Errorf("decode provenance of %s: %w", txn.ID, err)
		}
	}
	return &txn, nil
}
