// services/payment-gateway/internal/service/reconciler.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/metrics"
	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/publisher"
)

type Topics struct {
	Confirmed string
	Conflicts string
}

// ReconcileResult describes what a confirmation did.
type ReconcileResult struct {
	Outcome        models.ReconcileOutcome
	TransactionID  string
	TradeReference string
	GatewayStatus  string
}

// Reconciler applies gateway confirmations to transactions. The conditional
// status update in the store is its only concurrency control.
type Reconciler struct {
	store         TransactionStore
	refs          TradeReferences
	conflicts     ConflictRecorder
	events        EventPublisher
	topics        Topics
	amountDivisor int64
	logger        *zap.Logger
	now           func() time.Time
}

func NewReconciler(
	store TransactionStore,
	refs TradeReferences,
	conflicts ConflictRecorder,
	events EventPublisher,
	topics Topics,
	amountDivisor int64,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:         store,
		refs:          refs,
		conflicts:     conflicts,
		events:        events,
		topics:        topics,
		amountDivisor: amountDivisor,
		logger:        logger,
		now:           time.Now,
	}
}

// Reconcile resolves the transaction named by payload and moves it out of
// pending at most once. An error means the store could not be reached and
// the confirmation was not applied.
func (r *Reconciler) Reconcile(ctx context.Context, payload map[string]any, source models.Channel) (ReconcileResult, error) {
	fields, err := models.ParseConfirmation(payload)
	if err != nil {
		r.logger.Warn("unreadable confirmation payload", zap.String("source", string(source)), zap.Error(err))
		return r.finish(ReconcileResult{Outcome: models.OutcomeUnresolved}, source), nil
	}

	res := ReconcileResult{
		TradeReference: fields.MerchantOrderNo,
		GatewayStatus:  fields.Status,
	}
	incoming := models.TransactionStatusFailed
	if fields.Succeeded() {
		incoming = models.TransactionStatusSucceeded
	}

	id, ok := r.refs.Decode(fields.MerchantOrderNo)
	if !ok {
		r.logger.Warn("confirmation trade reference does not decode",
			zap.String("source", string(source)),
			zap.String("trade_reference", fields.MerchantOrderNo),
			zap.String("gateway_status", fields.Status))
		res.Outcome = models.OutcomeUnresolved
		return r.finish(res, source), nil
	}

	txn, err := r.store.FindByID(ctx, id)
	if err != nil {
		return res, fmt.Errorf("find transaction %s: %w", id, err)
	}
	if txn == nil {
		r.logger.Warn("confirmation for unknown transaction",
			zap.String("source", string(source)),
			zap.String("transaction_id", id),
			zap.String("trade_reference", fields.MerchantOrderNo))
		res.Outcome = models.OutcomeUnresolved
		return r.finish(res, source), nil
	}
	res.TransactionID = txn.ID

	if txn.Status != models.TransactionStatusPending {
		res.Outcome = r.settled(ctx, txn, incoming, fields, payload, source)
		return r.finish(res, source), nil
	}

	r.checkAmount(txn, fields)

	vendorReference := ""
	if incoming == models.TransactionStatusSucceeded {
		vendorReference = fields.TradeNo
	}
	provenance := &models.Provenance{
		Source:     source,
		Raw:        payload,
		RecordedAt: r.now().UTC(),
	}

	n, err := r.store.ConditionalUpdateStatus(ctx, txn.ID, models.TransactionStatusPending, incoming, vendorReference, provenance)
	if err != nil {
		return res, fmt.Errorf("update transaction %s: %w", txn.ID, err)
	}

	if n == 0 {
		// Another confirmation settled the transaction between the read and the write.
		current, err := r.store.FindByID(ctx, txn.ID)
		if err != nil {
			return res, fmt.Errorf("reload transaction %s: %w", txn.ID, err)
		}
		if current == nil {
			res.Outcome = models.OutcomeUnresolved
			return r.finish(res, source), nil
		}
		res.Outcome = r.settled(ctx, current, incoming, fields, payload, source)
		return r.finish(res, source), nil
	}

	res.Outcome = models.OutcomeFailed
	if incoming == models.TransactionStatusSucceeded {
		res.Outcome = models.OutcomeSucceeded
	}

	r.logger.Info("transaction settled",
		zap.String("transaction_id", txn.ID),
		zap.String("status", string(incoming)),
		zap.String("source", string(source)),
		zap.String("vendor_reference", vendorReference),
		zap.String("gateway_status", fields.Status),
		zap.String("gateway_message", fields.Message))

	r.publish(ctx, r.topics.Confirmed, txn.ID, publisher.TransactionSettled{
		TransactionID:   txn.ID,
		Status:          string(incoming),
		VendorReference: vendorReference,
		TradeReference:  fields.MerchantOrderNo,
		Amount:          txn.Amount,
		Source:          string(source),
		GatewayMessage:  fields.Message,
		OccurredAt:      provenance.RecordedAt,
	})

	return r.finish(res, source), nil
}

// settled classifies a confirmation for a transaction that already left
// pending. The stored outcome always wins.
func (r *Reconciler) settled(
	ctx context.Context,
	txn *models.Transaction,
	incoming models.TransactionStatus,
	fields models.ConfirmationFields,
	payload map[string]any,
	source models.Channel,
) models.ReconcileOutcome {
	if txn.Status == incoming {
		r.logger.Info("duplicate confirmation ignored",
			zap.String("transaction_id", txn.ID),
			zap.String("status", string(txn.Status)),
			zap.String("source", string(source)))
		return models.OutcomeDuplicate
	}

	conflict := &models.Conflict{
		ID:             uuid.New().String(),
		TransactionID:  txn.ID,
		StoredStatus:   txn.Status,
		IncomingStatus: incoming,
		Source:         source,
		GatewayMessage: fields.Message,
		Raw:            payload,
		DetectedAt:     r.now().UTC(),
	}

	metrics.ReconcileConflicts.WithLabelValues(string(source)).Inc()
	r.logger.Warn("conflicting confirmation left for review",
		zap.String("conflict_id", conflict.ID),
		zap.String("transaction_id", txn.ID),
		zap.String("stored_status", string(txn.Status)),
		zap.String("incoming_status", string(incoming)),
		zap.String("source", string(source)),
		zap.String("gateway_status", fields.Status))

	if err := r.conflicts.RecordConflict(ctx, conflict); err != nil {
		r.logger.Error("failed to record conflict",
			zap.String("conflict_id", conflict.ID),
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
	}

	r.publish(ctx, r.topics.Conflicts, txn.ID, publisher.ConfirmationConflicted{
		ConflictID:     conflict.ID,
		TransactionID:  txn.ID,
		StoredStatus:   string(txn.Status),
		IncomingStatus: string(incoming),
		Source:         string(source),
		OccurredAt:     conflict.DetectedAt,
	})

	return models.OutcomeConflict
}

func (r *Reconciler) checkAmount(txn *models.Transaction, fields models.ConfirmationFields) {
	if fields.Amt == 0 {
		return
	}
	expected, err := NormalizeAmount(txn.Amount, r.amountDivisor)
	if err != nil || expected == fields.Amt {
		return
	}
	r.logger.Warn("confirmed amount differs from transaction amount",
		zap.String("transaction_id", txn.ID),
		zap.Int64("expected", expected),
		zap.Int64("confirmed", fields.Amt))
}

func (r *Reconciler) publish(ctx context.Context, topic, key string, event interface{}) {
	if topic == "" {
		return
	}
	if err := r.events.Publish(ctx, topic, key, event); err != nil {
		r.logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.String("transaction_id", key),
			zap.Error(err))
	}
}

func (r *Reconciler) finish(res ReconcileResult, source models.Channel) ReconcileResult {
	metrics.ReconcileOutcomes.WithLabelValues(string(source), string(res.Outcome)).Inc()
	return res
}
