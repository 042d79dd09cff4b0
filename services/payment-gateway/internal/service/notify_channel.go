// services/payment-gateway/internal/service/notify_channel.go
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/audit"
	"globalpay/services/payment-gateway/internal/metrics"
	"globalpay/services/payment-gateway/internal/models"
)

// Tokens written back to the gateway's notify delivery.
const (
	NotifyAck    = "SUCCESS"
	NotifyReject = "FAIL"
)

const replayKeyPrefix = "replay:notify:"

// NotifyChannel handles the gateway's server-to-server confirmations.
type NotifyChannel struct {
	cipher     Cipher
	reconciler Confirmer
	replay     KeyValueStore
	replayTTL  time.Duration
	receipts   ReceiptRecorder
	logger     *zap.Logger
	now        func() time.Time
}

func NewNotifyChannel(cipher Cipher, reconciler Confirmer, replay KeyValueStore, replayTTL time.Duration, receipts ReceiptRecorder, logger *zap.Logger) *NotifyChannel {
	if replayTTL <= 0 {
		replayTTL = 10 * time.Minute
	}
	return &NotifyChannel{
		cipher:     cipher,
		reconciler: reconciler,
		replay:     replay,
		replayTTL:  replayTTL,
		receipts:   receipts,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle processes one form-encoded delivery and returns the token to write
// back. Every structurally valid, verified delivery is acknowledged whatever
// its business outcome.
func (h *NotifyChannel) Handle(ctx context.Context, form url.Values) string {
	tradeInfo := form.Get(models.FieldTradeInfo)
	tradeSha := form.Get(models.FieldTradeSha)
	fp := Fingerprint(form)
	key := replayKeyPrefix + fp

	receipt := audit.Receipt{
		Channel:     string(models.ChannelNotify),
		Fingerprint: fp,
		ReceivedAt:  h.now().UTC(),
	}

	marked, err := h.replay.SetNX(ctx, key, receipt.ReceivedAt.Format(time.RFC3339), h.replayTTL)
	switch {
	case err != nil:
		h.logger.Warn("replay store unavailable, processing without dedup", zap.String("fingerprint", fp), zap.Error(err))
	case !marked:
		metrics.NotifyDeliveries.WithLabelValues("replay").Inc()
		h.logger.Info("notify replay acknowledged", zap.String("fingerprint", fp))
		return NotifyAck
	}
	release := func() {
		if !marked {
			return
		}
		if err := h.replay.Delete(ctx, key); err != nil {
			h.logger.Warn("failed to release replay marker", zap.String("fingerprint", fp), zap.Error(err))
		}
	}

	payload, err := openPayload(h.cipher, tradeInfo, tradeSha)
	if err != nil {
		release()
		metrics.NotifyDeliveries.WithLabelValues("rejected").Inc()
		h.logger.Warn("notify rejected",
			zap.String("fingerprint", fp),
			zap.Int("trade_info_len", len(tradeInfo)),
			zap.Error(err))
		receipt.Outcome, receipt.Reason = "rejected", err.Error()
		h.record(ctx, receipt)
		return NotifyReject
	}
	receipt.Verified = true
	receipt.Payload = payload

	res, err := h.reconciler.Reconcile(ctx, payload, models.ChannelNotify)
	if err != nil {
		release()
		metrics.NotifyDeliveries.WithLabelValues("error").Inc()
		h.logger.Error("notify reconcile failed, asking gateway to redeliver",
			zap.String("fingerprint", fp),
			zap.String("trade_reference", res.TradeReference),
			zap.Error(err))
		receipt.Outcome, receipt.Reason = "error", err.Error()
		h.record(ctx, receipt)
		return NotifyReject
	}

	metrics.NotifyDeliveries.WithLabelValues("accepted").Inc()
	receipt.Outcome = string(res.Outcome)
	receipt.TradeReference = res.TradeReference
	receipt.TransactionID = res.TransactionID
	h.record(ctx, receipt)
	return NotifyAck
}

func (h *NotifyChannel) record(ctx context.Context, receipt audit.Receipt) {
	if err := h.receipts.Record(ctx, receipt); err != nil {
		h.logger.Warn("failed to archive notify receipt", zap.String("fingerprint", receipt.Fingerprint), zap.Error(err))
	}
}

// Fingerprint identifies a notify delivery: the gateway's notification id
// when present, otherwise a hash of the signed payload.
func Fingerprint(form url.Values) string {
	if id := form.Get(models.FieldNotifyID); id != "" {
		return "id:" + id
	}
	sum := sha256.Sum256([]byte(form.Get(models.FieldTradeInfo) + "|" + form.Get(models.FieldTradeSha)))
	return "sha:" + hex.EncodeToString(sum[:])
}

// openPayload checks presence, then the signature, then decrypts. Nothing is
// decrypted unless the signature matches.
func openPayload(cipher Cipher, tradeInfo, tradeSha string) (map[string]any, error) {
	if tradeInfo == "" || tradeSha == "" {
		return nil, fmt.Errorf("%w: %s and %s are required", ErrMissingField, models.FieldTradeInfo, models.FieldTradeSha)
	}
	if !cipher.VerifySignature([]byte(tradeInfo), []byte(tradeSha)) {
		return nil, ErrSignatureMismatch
	}
	payload, err := cipher.Decrypt(tradeInfo)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
