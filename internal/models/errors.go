package models

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayTimeout      = errors.New("payment gateway timed out")
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrVersionConflict     = errors.New("concurrent order update")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrNothingDue          = errors.New("order has nothing left to pay")
	ErrOrderNotPayable     = errors.New("order does not accept payments in its current status")
	ErrInvalidInput        = errors.New("invalid input")
	ErrOTPCooldown         = errors.New("otp was sent recently, try again later")
	ErrOTPInvalid          = errors.New("otp is invalid or expired")
	ErrOTPAttemptsExceeded = errors.New("too many wrong otp attempts")
)

// GatewayConfigError is returned when a gateway's credentials are not configured
type GatewayConfigError struct {
	Gateway Gateway
	Missing []string
}

func (e *GatewayConfigError) Error() string {
	return fmt.Sprintf("gateway %s is not configured: missing %v", e.Gateway, e.Missing)
}

// OrderNotFoundError is returned when an order lookup finds nothing
type OrderNotFoundError struct {
	Ref string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order not found: %s", e.Ref)
}

// InvalidSignatureError means a callback failed its authenticity check
type InvalidSignatureError struct {
	Gateway Gateway
	Reason  string
	Err     error
}

func (e *InvalidSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid signature: %s: %v", e.Gateway, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: invalid signature: %s", e.Gateway, e.Reason)
}

func (e *InvalidSignatureError) Unwrap() error { return e.Err }

// AmountMismatchError is an integrity violation: the gateway reported a different amount
type AmountMismatchError struct {
	TransactionID string
	Expected      int64
	Actual        int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch on transaction %s: expected %d, got %d",
		e.TransactionID, e.Expected, e.Actual)
}

// IllegalTransitionError is produced by the transition table and swallowed by the ledger
type IllegalTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}
