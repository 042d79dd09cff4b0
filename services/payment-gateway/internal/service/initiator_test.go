package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/shared/pkg/cache"
)

type initiatorFixture struct {
	store *memoryStore
	kv    *cache.MemoryStore
	codec Cipher
	clock time.Time
	init  *Initiator
}

func newInitiatorFixture(t *testing.T, txns ...*models.Transaction) *initiatorFixture {
	t.Helper()
	f := &initiatorFixture{
		store: newMemoryStore(txns...),
		codec: newCodec(t),
		clock: time.Unix(1700000000, 0),
	}
	f.kv = cache.NewMemoryStore().WithClock(func() time.Time { return f.clock })
	f.init = NewInitiator(InitiatorConfig{
		Environment:   testEnv,
		Version:       "2.0",
		AmountDivisor: 100,
		RedirectTTL:   30 * time.Minute,
		ExpiryDays:    7,
		PublicBaseURL: "https://pay.example.com/",
	}, f.codec, newRefs(), f.store, f.kv, zap.NewNop())
	f.init.now = func() time.Time { return f.clock }
	return f
}

func checkoutRequest(txn *models.Transaction, method models.PaymentMethod) InitiateRequest {
	return InitiateRequest{
		Transaction:        txn,
		CustomerEmail:      "buyer@example.com",
		ProductDescription: "Coffee beans",
		ReturnURL:          "https://shop.example.com/checkout/return",
		NotifyURL:          "https://pay.example.com/api/v1/gateway/notify",
		Method:             method,
	}
}

func TestInitiate_BuildsSignedRedirect(t *testing.T) {
	txn := &models.Transaction{ID: "42", Amount: 4999}
	f := newInitiatorFixture(t, txn)
	ctx := context.Background()

	instr, err := f.init.Initiate(ctx, checkoutRequest(txn, models.PaymentMethodCredit))
	require.NoError(t, err)
	assert.Equal(t, "42", instr.TransactionID)
	assert.Equal(t, "https://pay.example.com/checkout/42/redirect", instr.URL)
	assert.Equal(t, f.clock.Add(30*time.Minute), instr.ExpiresAt)
	assert.LessOrEqual(t, len(instr.TradeReference), 20)

	payload, err := f.init.ConsumeRedirect(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, testEnv.CheckoutURL, payload.GatewayURL)
	assert.Equal(t, testEnv.MerchantID, payload.Fields[models.FieldMerchantID])
	assert.Equal(t, "2.0", payload.Fields[models.FieldVersion])

	tradeInfo := payload.Fields[models.FieldTradeInfo]
	tradeSha := payload.Fields[models.FieldTradeSha]
	assert.True(t, f.codec.VerifySignature([]byte(tradeInfo), []byte(tradeSha)))

	want := models.InitiationFields{
		MerchantID:      testEnv.MerchantID,
		RespondType:     "JSON",
		TimeStamp:       1700000000,
		Version:         "2.0",
		MerchantOrderNo: instr.TradeReference,
		Amt:             50,
		ItemDesc:        "Coffee beans",
		Email:           "buyer@example.com",
		ExpireDate:      f.clock.AddDate(0, 0, 7).Format("20060102"),
		ReturnURL:       "https://shop.example.com/checkout/return?txn=42",
		NotifyURL:       "https://pay.example.com/api/v1/gateway/notify",
		Credit:          true,
	}
	decrypted, err := f.codec.Decrypt(tradeInfo)
	require.NoError(t, err)
	assert.Equal(t, want.ToMap(), decrypted)

	stored := f.store.get("42")
	assert.Equal(t, instr.TradeReference, stored.TradeReference)
	assert.Equal(t, models.PaymentMethodCredit, stored.PaymentMethod)
	require.NotNil(t, stored.InitiatedAt)
	assert.Equal(t, models.TransactionStatusPending, stored.Status)
}

func TestInitiate_ChannelFlags(t *testing.T) {
	tests := []struct {
		method models.PaymentMethod
		want   []string
	}{
		{models.PaymentMethodCredit, []string{"CREDIT"}},
		{models.PaymentMethodBankTransfer, []string{"VACC"}},
		{models.PaymentMethodCVS, []string{"CVS"}},
		{models.PaymentMethodAll, []string{"CREDIT", "VACC", "CVS"}},
		{"", []string{"CREDIT", "VACC", "CVS"}},
	}

	for _, tt := range tests {
		t.Run(methodLabel(tt.method), func(t *testing.T) {
			txn := &models.Transaction{ID: "7", Amount: 1000}
			f := newInitiatorFixture(t, txn)
			ctx := context.Background()

			_, err := f.init.Initiate(ctx, checkoutRequest(txn, tt.method))
			require.NoError(t, err)

			payload, err := f.init.ConsumeRedirect(ctx, "7")
			require.NoError(t, err)
			fields, err := f.codec.Decrypt(payload.Fields[models.FieldTradeInfo])
			require.NoError(t, err)

			for _, flag := range []string{"CREDIT", "VACC", "CVS"} {
				if contains(tt.want, flag) {
					assert.Equal(t, "1", fields[flag], flag)
				} else {
					assert.NotContains(t, fields, flag)
				}
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestInitiate_RedirectIsSingleUse(t *testing.T) {
	txn := &models.Transaction{ID: "42", Amount: 4999}
	f := newInitiatorFixture(t, txn)
	ctx := context.Background()

	_, err := f.init.Initiate(ctx, checkoutRequest(txn, models.PaymentMethodCredit))
	require.NoError(t, err)

	_, err = f.init.ConsumeRedirect(ctx, "42")
	require.NoError(t, err)
	_, err = f.init.ConsumeRedirect(ctx, "42")
	assert.ErrorIs(t, err, ErrRedirectNotFound)
}

func TestInitiate_RedirectExpires(t *testing.T) {
	txn := &models.Transaction{ID: "42", Amount: 4999}
	f := newInitiatorFixture(t, txn)
	ctx := context.Background()

	_, err := f.init.Initiate(ctx, checkoutRequest(txn, models.PaymentMethodCredit))
	require.NoError(t, err)

	f.clock = f.clock.Add(31 * time.Minute)
	_, err = f.init.ConsumeRedirect(ctx, "42")
	assert.ErrorIs(t, err, ErrRedirectNotFound)
}

func TestInitiate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		txn     *models.Transaction
		mutate  func(*InitiateRequest)
		wantErr error
	}{
		{
			name:    "missing transaction",
			txn:     nil,
			wantErr: ErrTransactionNotFound,
		},
		{
			name:    "already settled",
			txn:     &models.Transaction{ID: "1", Amount: 100, Status: models.TransactionStatusSucceeded},
			wantErr: ErrNotPending,
		},
		{
			name:    "zero amount",
			txn:     &models.Transaction{ID: "1", Amount: 0},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			txn:     &models.Transaction{ID: "1", Amount: -500},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "unknown method",
			txn:     &models.Transaction{ID: "1", Amount: 100},
			mutate:  func(r *InitiateRequest) { r.Method = "crypto" },
			wantErr: ErrUnsupportedMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var txns []*models.Transaction
			if tt.txn != nil {
				txns = append(txns, tt.txn)
			}
			f := newInitiatorFixture(t, txns...)
			req := checkoutRequest(tt.txn, models.PaymentMethodCredit)
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := f.init.Initiate(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.kv.Len())
		})
	}
}

func TestInitiate_InvalidReturnURL(t *testing.T) {
	txn := &models.Transaction{ID: "42", Amount: 4999}
	f := newInitiatorFixture(t, txn)
	req := checkoutRequest(txn, models.PaymentMethodCredit)
	req.ReturnURL = "/relative/path"

	_, err := f.init.Initiate(context.Background(), req)
	assert.Error(t, err)
	assert.Empty(t, f.store.get("42").TradeReference)
}

func TestInitiate_ConfigurationErrors(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		txn := &models.Transaction{ID: "42", Amount: 4999}
		f := newInitiatorFixture(t, txn)
		f.init.cfg.Environment.HashKey = ""

		_, err := f.init.Initiate(context.Background(), checkoutRequest(txn, models.PaymentMethodCredit))
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("encryption failure", func(t *testing.T) {
		txn := &models.Transaction{ID: "42", Amount: 4999}
		f := newInitiatorFixture(t, txn)
		f.init.cipher = failingCipher{}

		_, err := f.init.Initiate(context.Background(), checkoutRequest(txn, models.PaymentMethodCredit))
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Zero(t, f.kv.Len())
	})
}

func TestInitiate_LostLinkageDiscardsPayload(t *testing.T) {
	txn := &models.Transaction{ID: "42", Amount: 4999}
	f := newInitiatorFixture(t, txn)
	stale := *txn
	// Settled by a confirmation after the caller loaded the transaction.
	f.store.settle("42", models.TransactionStatusFailed, "")

	_, err := f.init.Initiate(context.Background(), checkoutRequest(&stale, models.PaymentMethodCredit))
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = f.init.ConsumeRedirect(context.Background(), "42")
	assert.ErrorIs(t, err, ErrRedirectNotFound)
}

func TestWithCorrelation(t *testing.T) {
	got, err := withCorrelation("https://shop.example.com/back?lang=en", "abc")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get(CorrelationParam))
	assert.Equal(t, "en", u.Query().Get("lang"))
}

func TestItemDescription(t *testing.T) {
	assert.Equal(t, "Order 42", itemDescription("  ", "42"))
	long := "咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆咖啡豆"
	assert.Len(t, []rune(itemDescription(long, "42")), 50)
}
