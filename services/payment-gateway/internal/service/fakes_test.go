package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/audit"
	"globalpay/services/payment-gateway/internal/config"
	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/repository"
	"globalpay/services/payment-gateway/internal/tradecrypto"
	"globalpay/services/payment-gateway/internal/traderef"
)

var testEnv = config.Environment{
	Name:        "test",
	MerchantID:  "MS12345678",
	HashKey:     "12345678901234567890123456789012",
	HashIV:      "1234567890123456",
	CheckoutURL: "https://gateway.test/MPG/mpg_gateway",
	CloseURL:    "https://gateway.test/API/CreditCard/Close",
}

var errStoreDown = errors.New("connection refused")

// memoryStore is an in-memory TransactionStore with the same conditional
// update semantics as the Postgres repository.
type memoryStore struct {
	mu      sync.Mutex
	txns    map[string]*models.Transaction
	updates int

	findErr   error
	updateErr error
	// beforeUpdate runs before the conditional update takes the lock.
	beforeUpdate func(id string)
}

func newMemoryStore(txns ...*models.Transaction) *memoryStore {
	s := &memoryStore{txns: map[string]*models.Transaction{}}
	for _, t := range txns {
		if t.Status == "" {
			t.Status = models.TransactionStatusPending
		}
		s.txns[t.ID] = t
	}
	return s
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*models.Transaction, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) FindByVendorReference(_ context.Context, ref string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.VendorReference == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ConditionalUpdateStatus(_ context.Context, id string, expected, next models.TransactionStatus, vendorReference string, provenance *models.Provenance) (int64, error) {
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok || t.Status != expected {
		return 0, nil
	}
	t.Status = next
	if vendorReference != "" {
		t.VendorReference = vendorReference
	}
	if provenance != nil {
		t.Provenance = provenance
	}
	s.updates++
	return 1, nil
}

func (s *memoryStore) SaveGatewayLinkage(_ context.Context, id, tradeReference string, method models.PaymentMethod, initiatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok || t.Status != models.TransactionStatusPending {
		return repository.ErrNotPending
	}
	t.TradeReference = tradeReference
	t.PaymentMethod = method
	t.InitiatedAt = &initiatedAt
	return nil
}

func (s *memoryStore) get(id string) models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.txns[id]
}

func (s *memoryStore) settle(id string, status models.TransactionStatus, vendorReference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[id].Status = status
	s.txns[id].VendorReference = vendorReference
}

type conflictLog struct {
	mu        sync.Mutex
	conflicts []models.Conflict
}

func (c *conflictLog) RecordConflict(_ context.Context, conflict *models.Conflict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, *conflict)
	return nil
}

func (c *conflictLog) all() []models.Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Conflict(nil), c.conflicts...)
}

type publishedEvent struct {
	topic string
	key   string
	event interface{}
}

type eventLog struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (e *eventLog) Publish(_ context.Context, topic, key string, event interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, publishedEvent{topic: topic, key: key, event: event})
	return nil
}

func (e *eventLog) topics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.topic)
	}
	return out
}

type receiptLog struct {
	mu       sync.Mutex
	receipts []audit.Receipt
}

func (r *receiptLog) Record(_ context.Context, receipt audit.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	return nil
}

func (r *receiptLog) last() audit.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receipts[len(r.receipts)-1]
}

// countingConfirmer wraps a Confirmer and counts calls.
type countingConfirmer struct {
	mu    sync.Mutex
	calls int
	next  Confirmer
	err   error
}

func (c *countingConfirmer) Reconcile(ctx context.Context, payload map[string]any, source models.Channel) (ReconcileResult, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return ReconcileResult{}, err
	}
	if c.next == nil {
		return ReconcileResult{Outcome: models.OutcomeSucceeded}, nil
	}
	return c.next.Reconcile(ctx, payload, source)
}

func (c *countingConfirmer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// spyCipher counts decrypt attempts.
type spyCipher struct {
	Cipher
	decrypts int
}

func (s *spyCipher) Decrypt(ciphertext string) (map[string]any, error) {
	s.decrypts++
	return s.Cipher.Decrypt(ciphertext)
}

type failingCipher struct{ Cipher }

func (failingCipher) Encrypt(map[string]any) (string, error) {
	return "", errors.New("crypto/aes: invalid key size 7")
}

func newCodec(t *testing.T) *tradecrypto.Codec {
	t.Helper()
	c, err := tradecrypto.NewCodec(testEnv)
	require.NoError(t, err)
	return c
}

func newRefs() *traderef.Codec {
	return traderef.NewCodec(
		traderef.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		traderef.WithRand(func(int) int { return 7 }),
	)
}

var testTopics = Topics{Confirmed: "payments.confirmed", Conflicts: "payments.conflicts"}

type reconcilerFixture struct {
	store     *memoryStore
	conflicts *conflictLog
	events    *eventLog
	refs      *traderef.Codec
	rec       *Reconciler
}

func newReconcilerFixture(txns ...*models.Transaction) *reconcilerFixture {
	f := &reconcilerFixture{
		store:     newMemoryStore(txns...),
		conflicts: &conflictLog{},
		events:    &eventLog{},
		refs:      newRefs(),
	}
	f.rec = NewReconciler(f.store, f.refs, f.conflicts, f.events, testTopics, 100, zap.NewNop())
	return f
}

func (f *reconcilerFixture) ref(t *testing.T, id string) string {
	t.Helper()
	ref, err := f.refs.Encode(id)
	require.NoError(t, err)
	return ref
}

func confirmation(status, tradeRef, tradeNo, amt string) map[string]any {
	return map[string]any{
		"Status":          status,
		"Message":         "gateway message for " + status,
		"MerchantID":      testEnv.MerchantID,
		"MerchantOrderNo": tradeRef,
		"TradeNo":         tradeNo,
		"Amt":             amt,
		"PaymentType":     "CREDIT",
	}
}

// signedForm encrypts and signs fields the way the gateway posts them.
func signedForm(t *testing.T, c *tradecrypto.Codec, fields map[string]any) url.Values {
	t.Helper()
	tradeInfo, err := c.Encrypt(fields)
	require.NoError(t, err)
	return url.Values{
		models.FieldMerchantID: {testEnv.MerchantID},
		models.FieldTradeInfo:  {tradeInfo},
		models.FieldTradeSha:   {string(c.Sign([]byte(tradeInfo)))},
		models.FieldVersion:    {"2.0"},
	}
}
