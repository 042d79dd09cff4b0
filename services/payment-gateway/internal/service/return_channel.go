// services/payment-gateway/internal/service/return_channel.go
package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/audit"
	"globalpay/services/payment-gateway/internal/models"
)

// ReturnChannel handles the browser coming back from the hosted page. It
// only speeds up what the customer sees; notify stays authoritative.
type ReturnChannel struct {
	cipher         Cipher
	reconciler     Confirmer
	receipts       ReceiptRecorder
	receiptBaseURL string
	statusPageURL  string
	logger         *zap.Logger
	now            func() time.Time
}

func NewReturnChannel(cipher Cipher, reconciler Confirmer, receipts ReceiptRecorder, receiptBaseURL, statusPageURL string, logger *zap.Logger) *ReturnChannel {
	return &ReturnChannel{
		cipher:         cipher,
		reconciler:     reconciler,
		receipts:       receipts,
		receiptBaseURL: strings.TrimRight(receiptBaseURL, "/"),
		statusPageURL:  statusPageURL,
		logger:         logger,
		now:            time.Now,
	}
}

// Handle returns where to send the browser. Failures always land on the
// generic status page; details stay in the logs.
func (h *ReturnChannel) Handle(ctx context.Context, form url.Values, correlationID string) string {
	receipt := audit.Receipt{
		Channel:       string(models.ChannelReturn),
		TransactionID: correlationID,
		ReceivedAt:    h.now().UTC(),
	}

	payload, err := openPayload(h.cipher, form.Get(models.FieldTradeInfo), form.Get(models.FieldTradeSha))
	if err != nil {
		h.logger.Warn("return rejected", zap.String("correlation_id", correlationID), zap.Error(err))
		receipt.Outcome, receipt.Reason = "rejected", err.Error()
		h.record(ctx, receipt)
		return h.statusPageURL
	}
	receipt.Verified = true
	receipt.Payload = payload

	res, err := h.reconciler.Reconcile(ctx, payload, models.ChannelReturn)
	receipt.TradeReference = res.TradeReference
	if err != nil {
		h.logger.Error("return reconcile failed",
			zap.String("correlation_id", correlationID),
			zap.String("trade_reference", res.TradeReference),
			zap.Error(err))
		receipt.Outcome, receipt.Reason = "error", err.Error()
		h.record(ctx, receipt)
		return h.statusPageURL
	}

	receipt.Outcome = string(res.Outcome)
	if res.TransactionID != "" {
		receipt.TransactionID = res.TransactionID
	}
	h.record(ctx, receipt)

	if res.Outcome == models.OutcomeUnresolved || res.TransactionID == "" {
		return h.statusPageURL
	}
	if correlationID != "" && correlationID != res.TransactionID {
		h.logger.Warn("return correlation does not match confirmed transaction",
			zap.String("correlation_id", correlationID),
			zap.String("transaction_id", res.TransactionID))
		return h.statusPageURL
	}

	return h.receiptBaseURL + "/" + url.PathEscape(res.TransactionID)
}

func (h *ReturnChannel) record(ctx context.Context, receipt audit.Receipt) {
	if err := h.receipts.Record(ctx, receipt); err != nil {
		h.logger.Warn("failed to archive return receipt", zap.String("transaction_id", receipt.TransactionID), zap.Error(err))
	}
}
