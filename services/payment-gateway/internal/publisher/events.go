package publisher

import "time"

// TransactionSettled tells the order system that a transaction left pending.
type TransactionSettled struct {
	TransactionID   string    `json:"transaction_id"`
	Status          string    `json:"status"`
	VendorReference string    `json:"vendor_reference,omitempty"`
	TradeReference  string    `json:"trade_reference"`
	Amount          int64     `json:"amount"`
	Source          string    `json:"source"`
	GatewayMessage  string    `json:"gateway_message,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ConfirmationConflicted is emitted for each contradicting late confirmation.
type ConfirmationConflicted struct {
	ConflictID     string    `json:"conflict_id"`
	TransactionID  string    `json:"transaction_id"`
	StoredStatus   string    `json:"stored_status"`
	IncomingStatus string    `json:"incoming_status"`
	Source         string    `json:"source"`
	OccurredAt     time.Time `json:"occurred_at"`
}
