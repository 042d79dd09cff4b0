// services/payment-gateway/internal/service/refund_issuer.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/config"
	"globalpay/services/payment-gateway/internal/metrics"
	"globalpay/services/payment-gateway/internal/models"
)

const (
	closeAPIVersion  = "1.1"
	maxResponseBytes = 1 << 20
)

type RefundConfig struct {
	Environment   config.Environment
	AmountDivisor int64
	Timeout       time.Duration
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RefundIssuer sends close/refund requests for settled transactions. It does
// not change transaction status; refund bookkeeping belongs to the order system.
type RefundIssuer struct {
	cfg    RefundConfig
	cipher Cipher
	client HTTPDoer
	logger *zap.Logger
	now    func() time.Time
}

// NewRefundIssuer uses client when given, otherwise an http.Client bounded by
// cfg.Timeout (10s when unset).
func NewRefundIssuer(cfg RefundConfig, cipher Cipher, client HTTPDoer, logger *zap.Logger) *RefundIssuer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RefundIssuer{
		cfg:    cfg,
		cipher: cipher,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

type closeResponse struct {
	Status    string `json:"Status"`
	Message   string `json:"Message"`
	TradeInfo string `json:"TradeInfo"`
	TradeSha  string `json:"TradeSha"`
}

// Refund asks the gateway to refund amount (minor units) of txn and returns
// the gateway's trade number for the refund.
func (s *RefundIssuer) Refund(ctx context.Context, txn *models.Transaction, amount int64) (string, error) {
	if txn == nil || txn.Status != models.TransactionStatusSucceeded || txn.VendorReference == "" {
		return "", ErrMissingVendorReference
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if err := s.cfg.Environment.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	normalized, err := NormalizeAmount(amount, s.cfg.AmountDivisor)
	if err != nil {
		return "", err
	}

	fields := models.RefundFields{
		RespondType:     respondTypeJSON,
		Version:         closeAPIVersion,
		Amt:             normalized,
		MerchantOrderNo: txn.TradeReference,
		TradeNo:         txn.VendorReference,
		IndexType:       models.IndexByTradeNo,
		TimeStamp:       s.now().Unix(),
		CloseType:       models.CloseTypeRefund,
	}
	postData, err := s.cipher.Encrypt(fields.ToMap())
	if err != nil {
		return "", fmt.Errorf("%w: encrypt refund request: %v", ErrConfiguration, err)
	}

	form := url.Values{}
	form.Set("MerchantID_", s.cfg.Environment.MerchantID)
	form.Set("PostData_", postData)

	resp, err := s.post(ctx, form)
	if err != nil {
		metrics.RefundRequests.WithLabelValues("unavailable").Inc()
		return "", err
	}

	result, err := s.interpret(resp)
	if err != nil {
		metrics.RefundRequests.WithLabelValues("rejected").Inc()
		s.logger.Warn("refund rejected",
			zap.String("transaction_id", txn.ID),
			zap.String("vendor_reference", txn.VendorReference),
			zap.Int64("amount", normalized),
			zap.Error(err))
		return "", err
	}

	refundID := result.TradeNo
	if refundID == "" {
		refundID = txn.VendorReference
	}

	metrics.RefundRequests.WithLabelValues("ok").Inc()
	s.logger.Info("refund accepted",
		zap.String("transaction_id", txn.ID),
		zap.String("vendor_reference", txn.VendorReference),
		zap.String("refund_reference", refundID),
		zap.Int64("amount", normalized))

	return refundID, nil
}

func (s *RefundIssuer) post(ctx context.Context, form url.Values) (*closeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Environment.CloseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build refund request: %v", ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.GatewayLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: http status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var out closeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("unreadable response: %v", err)}
	}
	return &out, nil
}

// interpret verifies and decrypts the response. Only an explicit success
// status inside the verified payload counts.
func (s *RefundIssuer) interpret(resp *closeResponse) (models.RefundResult, error) {
	if resp.TradeInfo == "" || resp.TradeSha == "" {
		return models.RefundResult{}, &GatewayError{Status: resp.Status, Message: resp.Message}
	}

	payload, err := openPayload(s.cipher, resp.TradeInfo, resp.TradeSha)
	if err != nil {
		return models.RefundResult{}, fmt.Errorf("refund response: %w", err)
	}

	result, err := models.ParseRefundResult(payload)
	if err != nil {
		return models.RefundResult{}, fmt.Errorf("refund response: %w", err)
	}
	if result.Status != models.GatewayStatusSuccess {
		return models.RefundResult{}, &GatewayError{Status: result.Status, Message: result.Message}
	}
	return result, nil
}
