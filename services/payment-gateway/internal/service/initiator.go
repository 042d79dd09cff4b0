// services/payment-gateway/internal/service/initiator.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/config"
	"globalpay/services/payment-gateway/internal/metrics"
	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/repository"
)

const (
	redirectKeyPrefix = "checkout:redirect:"
	respondTypeJSON   = "JSON"

	// CorrelationParam carries the transaction id on the return URL.
	CorrelationParam = "txn"
)

type InitiatorConfig struct {
	Environment   config.Environment
	Version       string
	AmountDivisor int64
	RedirectTTL   time.Duration
	ExpiryDays    int
	PublicBaseURL string
}

// Initiator prepares hosted-checkout requests.
type Initiator struct {
	cfg    InitiatorConfig
	cipher Cipher
	refs   TradeReferences
	store  TransactionStore
	kv     KeyValueStore
	logger *zap.Logger
	now    func() time.Time
}

func NewInitiator(cfg InitiatorConfig, cipher Cipher, refs TradeReferences, store TransactionStore, kv KeyValueStore, logger *zap.Logger) *Initiator {
	if cfg.RedirectTTL <= 0 {
		cfg.RedirectTTL = 30 * time.Minute
	}
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = 7
	}
	return &Initiator{
		cfg:    cfg,
		cipher: cipher,
		refs:   refs,
		store:  store,
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}
}

type InitiateRequest struct {
	Transaction        *models.Transaction
	CustomerEmail      string
	ProductDescription string
	ReturnURL          string
	NotifyURL          string
	Method             models.PaymentMethod
}

// Initiate builds, encrypts and signs the checkout request for a pending
// transaction and parks it for the redirect endpoint.
func (s *Initiator) Initiate(ctx context.Context, req InitiateRequest) (*models.RedirectInstruction, error) {
	txn := req.Transaction
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	if txn.Status != models.TransactionStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, txn.ID, txn.Status)
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}
	if err := s.cfg.Environment.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	amount, err := NormalizeAmount(txn.Amount, s.cfg.AmountDivisor)
	if err != nil {
		return nil, err
	}

	tradeRef, err := s.refs.Encode(txn.ID)
	if err != nil {
		return nil, err
	}

	returnURL, err := withCorrelation(req.ReturnURL, txn.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fields := models.InitiationFields{
		MerchantID:      s.cfg.Environment.MerchantID,
		RespondType:     respondTypeJSON,
		TimeStamp:       now.Unix(),
		Version:         s.cfg.Version,
		MerchantOrderNo: tradeRef,
		Amt:             amount,
		ItemDesc:        itemDescription(req.ProductDescription, txn.ID),
		Email:           req.CustomerEmail,
		LoginType:       0,
		ExpireDate:      now.AddDate(0, 0, s.cfg.ExpiryDays).Format("20060102"),
		ReturnURL:       returnURL,
		NotifyURL:       req.NotifyURL,
	}
	fields.EnableMethod(req.Method)
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	tradeInfo, err := s.cipher.Encrypt(fields.ToMap())
	if err != nil {
		metrics.Initiations.WithLabelValues(methodLabel(req.Method), "config_error").Inc()
		return nil, fmt.Errorf("%w: encrypt checkout request: %v", ErrConfiguration, err)
	}
	tradeSha := s.cipher.Sign([]byte(tradeInfo))

	expiresAt := now.Add(s.cfg.RedirectTTL)
	payload := models.PendingRedirectPayload{
		TransactionID: txn.ID,
		GatewayURL:    s.cfg.Environment.CheckoutURL,
		Fields: map[string]string{
			models.FieldMerchantID: s.cfg.Environment.MerchantID,
			models.FieldTradeInfo:  tradeInfo,
			models.FieldTradeSha:   string(tradeSha),
			models.FieldVersion:    s.cfg.Version,
		},
		ExpiresAt: expiresAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal redirect payload: %w", err)
	}

	key := redirectKey(txn.ID)
	if err := s.kv.Set(ctx, key, string(data), s.cfg.RedirectTTL); err != nil {
		return nil, fmt.Errorf("store redirect payload: %w", err)
	}

	if err := s.store.SaveGatewayLinkage(ctx, txn.ID, tradeRef, req.Method, now); err != nil {
		if delErr := s.kv.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to discard redirect payload", zap.String("key", key), zap.Error(delErr))
		}
		if errors.Is(err, repository.ErrNotPending) {
			return nil, fmt.Errorf("%w: %s", ErrNotPending, txn.ID)
		}
		return nil, fmt.Errorf("save gateway linkage: %w", err)
	}

	metrics.Initiations.WithLabelValues(methodLabel(req.Method), "ok").Inc()
	s.logger.Info("checkout initiated",
		zap.String("transaction_id", txn.ID),
		zap.String("trade_reference", tradeRef),
		zap.Int64("amount", amount),
		zap.String("method", methodLabel(req.Method)),
		zap.String("environment", s.cfg.Environment.Name))

	return &models.RedirectInstruction{
		TransactionID:  txn.ID,
		TradeReference: tradeRef,
		URL:            strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/checkout/" + url.PathEscape(txn.ID) + "/redirect",
		ExpiresAt:      expiresAt,
	}, nil
}

// ConsumeRedirect hands out the parked payload once.
func (s *Initiator) ConsumeRedirect(ctx context.Context, transactionID string) (*models.PendingRedirectPayload, error) {
	data, ok, err := s.kv.GetDel(ctx, redirectKey(transactionID))
	if err != nil {
		return nil, fmt.Errorf("load redirect payload: %w", err)
	}
	if !ok {
		return nil, ErrRedirectNotFound
	}

	var payload models.PendingRedirectPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decode redirect payload: %w", err)
	}
	return &payload, nil
}

func redirectKey(transactionID string) string {
	return redirectKeyPrefix + transactionID
}

func withCorrelation(rawURL, transactionID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid return url %q", rawURL)
	}
	q := u.Query()
	q.Set(CorrelationParam, transactionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func itemDescription(desc, transactionID string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		desc = "Order " + transactionID
	}
	if r := []rune(desc); len(r) > 50 {
		desc = string(r[:50])
	}
	return desc
}

func methodLabel(m models.PaymentMethod) string {
	if m == "" {
		return string(models.PaymentMethodAll)
	}
	return string(m)
}
