// services/payment-gateway/internal/models/transaction.go
package models

import "time"

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Channel identifies which confirmation path produced a status.
type Channel string

const (
	ChannelNotify Channel = "notify"
	ChannelReturn Channel = "return"
)

type PaymentMethod string

const (
	PaymentMethodCredit       PaymentMethod = "credit"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCVS          PaymentMethod = "cvs"
	PaymentMethodAll          PaymentMethod = "all"
)

// Valid reports whether m is a known method. The empty method is valid and
// means all channels.
func (m PaymentMethod) Valid() bool {
	switch m {
	case "", PaymentMethodCredit, PaymentMethodBankTransfer, PaymentMethodCVS, PaymentMethodAll:
		return true
	}
	return false
}

type Transaction struct {
	ID              string            `json:"id" db:"id"`
	Amount          int64             `json:"amount" db:"amount"`
	Status          TransactionStatus `json:"status" db:"status"`
	VendorReference string            `json:"vendor_reference,omitempty" db:"vendor_reference"`
	TradeReference  string            `json:"trade_reference,omitempty" db:"trade_reference"`
	PaymentMethod   PaymentMethod     `json:"payment_method,omitempty" db:"payment_method"`
	InitiatedAt     *time.Time        `json:"initiated_at,omitempty" db:"initiated_at"`
	Provenance      *Provenance       `json:"provenance,omitempty" db:"provenance"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Provenance is a diagnostic trail of the last confirmation applied. It is
// never used to authorize anything.
type Provenance struct {
	Source     Channel        `json:"source"`
	Raw        map[string]any `json:"raw"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// TransactionSchema creates the transactions table. Rows are inserted by the
// order system; this service only writes linkage and confirmation columns.
const TransactionSchema = `
CREATE TABLE IF NOT EXISTS transactions (
    id VARCHAR(64) PRIMARY KEY,
    amount BIGINT NOT NULL CHECK (amount > 0),
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    vendor_reference VARCHAR(64),
    trade_reference VARCHAR(20),
    payment_method VARCHAR(20),
    initiated_at TIMESTAMPTZ,
    provenance JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_vendor_reference ON transactions (vendor_reference);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status);
`
