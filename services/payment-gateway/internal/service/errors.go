package service

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration          = errors.New("gateway configuration error")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrUnsupportedMethod      = errors.New("unsupported payment method")
	ErrNotPending             = errors.New("transaction is not pending")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrRedirectNotFound       = errors.New("redirect payload not found or already used")
	ErrMissingField           = errors.New("required gateway field missing")
	ErrSignatureMismatch      = errors.New("gateway signature mismatch")
	ErrMissingVendorReference = errors.New("missing-vendor-reference")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
)

// GatewayError is a well-formed answer from the gateway that is not a success.
type GatewayError struct {
	Status  string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("gateway rejected request: %s", e.Message)
	}
	return fmt.Sprintf("gateway rejected request: %s: %s", e.Status, e.Message)
}
