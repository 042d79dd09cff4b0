// services/payment-gateway/internal/handler/gateway_handler.go
package handler

import (
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/audit"
	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/service"
	"globalpay/services/payment-gateway/internal/traderef"
)

type Checkout interface {
	Initiate(ctx context.Context, req service.InitiateRequest) (*models.RedirectInstruction, error)
	ConsumeRedirect(ctx context.Context, transactionID string) (*models.PendingRedirectPayload, error)
}

type NotifyHandler interface {
	Handle(ctx context.Context, form url.Values) string
}

type ReturnHandler interface {
	Handle(ctx context.Context, form url.Values, correlationID string) string
}

type Refunder interface {
	Refund(ctx context.Context, txn *models.Transaction, amount int64) (string, error)
}

type TransactionReader interface {
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
}

type ConflictLister interface {
	ListConflicts(ctx context.Context, limit int) ([]models.Conflict, error)
}

type ReceiptLister interface {
	ByTransaction(ctx context.Context, transactionID string, limit int64) ([]audit.Receipt, error)
}

// CallbackURLs are the gateway-facing endpoints of this service.
type CallbackURLs struct {
	Notify string
	Return string
}

const (
	defaultConflictLimit = 50
	maxConflictLimit     = 500
	receiptLimit         = 100
)

type GatewayHandler struct {
	checkout  Checkout
	notify    NotifyHandler
	returns   ReturnHandler
	refunds   Refunder
	txns      TransactionReader
	conflicts ConflictLister
	receipts  ReceiptLister
	callbacks CallbackURLs
	logger    *zap.Logger
}

func NewGatewayHandler(
	checkout Checkout,
	notify NotifyHandler,
	returns ReturnHandler,
	refunds Refunder,
	txns TransactionReader,
	conflicts ConflictLister,
	receipts ReceiptLister,
	callbacks CallbackURLs,
	logger *zap.Logger,
) *GatewayHandler {
	return &GatewayHandler{
		checkout:  checkout,
		notify:    notify,
		returns:   returns,
		refunds:   refunds,
		txns:      txns,
		conflicts: conflicts,
		receipts:  receipts,
		callbacks: callbacks,
		logger:    logger,
	}
}

// Register mounts every gateway route on r.
func (h *GatewayHandler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.GET("/:id", h.GetTransaction)
			payments.GET("/:id/receipts", h.ListReceipts)
			payments.POST("/:id/checkout", h.Checkout)
			payments.POST("/:id/refund", h.Refund)
		}

		v1.POST("/gateway/notify", h.Notify)
		v1.GET("/reconciliation/conflicts", h.ListConflicts)
	}

	r.GET("/checkout/:id/redirect", h.Redirect)
	r.GET("/checkout/return", h.Return)
	r.POST("/checkout/return", h.Return)
}

type checkoutRequest struct {
	CustomerEmail      string               `json:"customer_email" binding:"omitempty,email"`
	ProductDescription string               `json:"product_description"`
	Method             models.PaymentMethod `json:"method"`
}

// Checkout handles POST /api/v1/payments/:id/checkout
func (h *GatewayHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, ok := h.loadTransaction(c)
	if !ok {
		return
	}

	instr, err := h.checkout.Initiate(c.Request.Context(), service.InitiateRequest{
		Transaction:        txn,
		CustomerEmail:      req.CustomerEmail,
		ProductDescription: req.ProductDescription,
		ReturnURL:          h.callbacks.Return,
		NotifyURL:          h.callbacks.Notify,
		Method:             req.Method,
	})
	if err != nil {
		status, msg := initiateErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to initiate checkout", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusCreated, instr)
}

func initiateErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotPending):
		return http.StatusConflict, "Transaction is not pending"
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrUnsupportedMethod),
		errors.Is(err, models.ErrNoPaymentChannel),
		errors.Is(err, traderef.ErrUnsupportedID):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "Failed to initiate checkout"
	}
}

var redirectPage = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.GatewayURL}}">
{{range $name, $value := .Fields}}<input type="hidden" name="{{$name}}" value="{{$value}}">
{{end}}<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

// Redirect handles GET /checkout/:id/redirect. The parked payload is served once.
func (h *GatewayHandler) Redirect(c *gin.Context) {
	payload, err := h.checkout.ConsumeRedirect(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrRedirectNotFound) {
			c.JSON(http.StatusGone, gin.H{"error": "Checkout link expired or already used"})
			return
		}
		h.logger.Error("failed to load redirect payload", zap.String("transaction_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load checkout"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Render(http.StatusOK, render.HTML{Template: redirectPage, Data: payload})
}

// Notify handles POST /api/v1/gateway/notify
func (h *GatewayHandler) Notify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		h.logger.Warn("unreadable notify body", zap.Error(err))
		c.String(http.StatusOK, service.NotifyReject)
		return
	}
	c.String(http.StatusOK, h.notify.Handle(c.Request.Context(), c.Request.PostForm))
}

// Return handles GET|POST /checkout/return
func (h *GatewayHandler) Return(c *gin.Context) {
	form := url.Values{}
	if err := c.Request.ParseForm(); err == nil {
		form = c.Request.Form
	}
	target := h.returns.Handle(c.Request.Context(), form, c.Query(service.CorrelationParam))
	c.Redirect(http.StatusFound, target)
}

type refundRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Refund handles POST /api/v1/payments/:id/refund
func (h *GatewayHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, ok := h.loadTransaction(c)
	if !ok {
		return
	}

	refundID, err := h.refunds.Refund(c.Request.Context(), txn, req.Amount)
	if err != nil {
		var gwErr *service.GatewayError
		switch {
		case errors.Is(err, service.ErrMissingVendorReference):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidAmount):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.As(err, &gwErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Refund rejected by gateway", "gateway_status": gwErr.Status, "gateway_message": gwErr.Message})
		case errors.Is(err, service.ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway unavailable"})
		default:
			h.logger.Error("failed to refund", zap.String("transaction_id", txn.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process refund"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction_id": txn.ID, "refund_reference": refundID})
}

// GetTransaction handles GET /api/v1/payments/:id
func (h *GatewayHandler) GetTransaction(c *gin.Context) {
	txn, ok := h.loadTransaction(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ListReceipts handles GET /api/v1/payments/:id/receipts
func (h *GatewayHandler) ListReceipts(c *gin.Context) {
	id := c.Param("id")
	receipts, err := h.receipts.ByTransaction(c.Request.Context(), id, receiptLimit)
	if err != nil {
		h.logger.Error("failed to list receipts", zap.String("transaction_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list receipts"})
		return
	}
	if receipts == nil {
		receipts = []audit.Receipt{}
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "receipts": receipts})
}

// ListConflicts handles GET /api/v1/reconciliation/conflicts
func (h *GatewayHandler) ListConflicts(c *gin.Context) {
	limit := defaultConflictLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxConflictLimit {
		limit = maxConflictLimit
	}

	conflicts, err := h.conflicts.ListConflicts(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list conflicts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conflicts"})
		return
	}
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

func (h *GatewayHandler) loadTransaction(c *gin.Context) (*models.Transaction, bool) {
	id := c.Param("id")
	txn, err := h.txns.FindByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to load transaction", zap.String("transaction_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transaction"})
		return nil, false
	}
	if txn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return nil, false
	}
	return txn, true
}
