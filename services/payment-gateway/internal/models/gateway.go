// services/payment-gateway/internal/models/gateway.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GatewayStatusSuccess is the only status the gateway uses for success.
const GatewayStatusSuccess = "SUCCESS"

// Form field names on the gateway wire.
const (
	FieldMerchantID = "MerchantID"
	FieldTradeInfo  = "TradeInfo"
	FieldTradeSha   = "TradeSha"
	FieldVersion    = "Version"
	FieldNotifyID   = "NotifyID"
)

var ErrNoPaymentChannel = errors.New("no payment channel enabled")

// InitiationFields is the plaintext of an outbound checkout request.
type InitiationFields struct {
	MerchantID      string
	RespondType     string
	TimeStamp       int64
	Version         string
	MerchantOrderNo string
	Amt             int64
	ItemDesc        string
	Email           string
	LoginType       int
	ExpireDate      string
	ReturnURL       string
	NotifyURL       string
	ClientBackURL   string

	Credit bool
	VACC   bool
	CVS    bool
}

// EnableMethod sets the channel flags for one selection. PaymentMethodAll and
// the empty method enable every channel.
func (f *InitiationFields) EnableMethod(m PaymentMethod) {
	f.Credit, f.VACC, f.CVS = false, false, false
	switch m {
	case PaymentMethodCredit:
		f.Credit = true
	case PaymentMethodBankTransfer:
		f.VACC = true
	case PaymentMethodCVS:
		f.CVS = true
	default:
		f.Credit, f.VACC, f.CVS = true, true, true
	}
}

func (f InitiationFields) Validate() error {
	if !f.Credit && !f.VACC && !f.CVS {
		return ErrNoPaymentChannel
	}
	if f.MerchantID == "" || f.MerchantOrderNo == "" {
		return errors.New("merchant id and order number are required")
	}
	if f.Amt <= 0 {
		return fmt.Errorf("amount must be positive, got %d", f.Amt)
	}
	return nil
}

// ToMap flattens the fields for the codec. Optional fields are omitted when empty.
func (f InitiationFields) ToMap() map[string]any {
	m := map[string]any{
		"MerchantID":      f.MerchantID,
		"RespondType":     f.RespondType,
		"TimeStamp":       strconv.FormatInt(f.TimeStamp, 10),
		"Version":         f.Version,
		"MerchantOrderNo": f.MerchantOrderNo,
		"Amt":             strconv.FormatInt(f.Amt, 10),
		"ItemDesc":        f.ItemDesc,
		"LoginType":       strconv.Itoa(f.LoginType),
		"ExpireDate":      f.ExpireDate,
		"ReturnURL":       f.ReturnURL,
		"NotifyURL":       f.NotifyURL,
	}
	if f.Email != "" {
		m["Email"] = f.Email
	}
	if f.ClientBackURL != "" {
		m["ClientBackURL"] = f.ClientBackURL
	}
	if f.Credit {
		m["CREDIT"] = "1"
	}
	if f.VACC {
		m["VACC"] = "1"
	}
	if f.CVS {
		m["CVS"] = "1"
	}
	return m
}

// ConfirmationFields is what a decrypted notify or return payload carries.
type ConfirmationFields struct {
	Status          string
	Message         string
	MerchantID      string
	Amt             int64
	TradeNo         string
	MerchantOrderNo string
	PaymentType     string
	PayTime         string
}

func (c ConfirmationFields) Succeeded() bool {
	return c.Status == GatewayStatusSuccess
}

// ParseConfirmation reads a decrypted payload. The gateway nests the trade
// details under Result when responding with JSON, either as an object or as
// an encoded string; query-string payloads are flat.
func ParseConfirmation(payload map[string]any) (ConfirmationFields, error) {
	result, err := resultSection(payload)
	if err != nil {
		return ConfirmationFields{}, err
	}

	c := ConfirmationFields{
		Status:          stringOf(payload["Status"]),
		Message:         stringOf(payload["Message"]),
		MerchantID:      stringOf(result["MerchantID"]),
		TradeNo:         stringOf(result["TradeNo"]),
		MerchantOrderNo: stringOf(result["MerchantOrderNo"]),
		PaymentType:     stringOf(result["PaymentType"]),
		PayTime:         stringOf(result["PayTime"]),
	}
	// Amt is informational. An unreadable value leaves it at 0 and must not
	// keep a signed confirmation from settling.
	if amt := stringOf(result["Amt"]); amt != "" {
		if n, err := strconv.ParseInt(amt, 10, 64); err == nil {
			c.Amt = n
		}
	}
	return c, nil
}

// RefundFields is the plaintext of a close/refund request.
type RefundFields struct {
	RespondType     string
	Version         string
	Amt             int64
	MerchantOrderNo string
	TradeNo         string
	IndexType       int
	TimeStamp       int64
	CloseType       int
}

const (
	IndexByMerchantOrderNo = 1
	IndexByTradeNo         = 2

	CloseTypeCapture = 1
	CloseTypeRefund  = 2
)

func (r RefundFields) ToMap() map[string]any {
	m := map[string]any{
		"RespondType": r.RespondType,
		"Version":     r.Version,
		"Amt":         strconv.FormatInt(r.Amt, 10),
		"IndexType":   strconv.Itoa(r.IndexType),
		"TimeStamp":   strconv.FormatInt(r.TimeStamp, 10),
		"CloseType":   strconv.Itoa(r.CloseType),
	}
	if r.MerchantOrderNo != "" {
		m["MerchantOrderNo"] = r.MerchantOrderNo
	}
	if r.TradeNo != "" {
		m["TradeNo"] = r.TradeNo
	}
	return m
}

// RefundResult is the decrypted body of a close/refund response.
type RefundResult struct {
	Status          string
	Message         string
	TradeNo         string
	MerchantOrderNo string
	Amt             int64
}

func ParseRefundResult(payload map[string]any) (RefundResult, error) {
	result, err := resultSection(payload)
	if err != nil {
		return RefundResult{}, err
	}
	r := RefundResult{
		Status:          stringOf(payload["Status"]),
		Message:         stringOf(payload["Message"]),
		TradeNo:         stringOf(result["TradeNo"]),
		MerchantOrderNo: stringOf(result["MerchantOrderNo"]),
	}
	if amt := stringOf(result["Amt"]); amt != "" {
		if n, err := strconv.ParseInt(amt, 10, 64); err == nil {
			r.Amt = n
		}
	}
	return r, nil
}

// PendingRedirectPayload is the one-time bundle that the redirect endpoint
// turns into an auto-submitting form. Fields hold signed material and must
// not be logged.
type PendingRedirectPayload struct {
	TransactionID string            `json:"transaction_id"`
	GatewayURL    string            `json:"gateway_url"`
	Fields        map[string]string `json:"fields"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// RedirectInstruction points the browser at the internal retrieval endpoint.
type RedirectInstruction struct {
	TransactionID  string    `json:"transaction_id"`
	TradeReference string    `json:"trade_reference"`
	URL            string    `json:"url"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type ReconcileOutcome string

const (
	OutcomeSucceeded  ReconcileOutcome = "succeeded"
	OutcomeFailed     ReconcileOutcome = "failed"
	OutcomeDuplicate  ReconcileOutcome = "duplicate"
	OutcomeConflict   ReconcileOutcome = "conflict"
	OutcomeUnresolved ReconcileOutcome = "unresolved"
)

func resultSection(payload map[string]any) (map[string]any, error) {
	switch r := payload["Result"].(type) {
	case nil:
		return payload, nil
	case map[string]any:
		return r, nil
	case string:
		if r == "" {
			return payload, nil
		}
		var nested map[string]any
		if err := json.Unmarshal([]byte(r), &nested); err != nil {
			return nil, fmt.Errorf("invalid Result section: %w", err)
		}
		return nested, nil
	default:
		return nil, fmt.Errorf("unexpected Result type %T", r)
	}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		if len(t) > 0 {
			return t[0]
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}
