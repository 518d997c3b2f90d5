package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentSucceeded   = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypePaymentFlagged     = "PAYMENT_FLAGGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when checkout creates an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64        `json:"order_id"`
	OrderCode   string       `json:"order_code"`
	TotalAmount int64        `json:"total_amount"`
	Customer    CustomerInfo `json:"customer"`
}

// OrderStatusChangedEvent published by the ledger after every applied transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       int64         `json:"order_id"`
	OrderCode     string        `json:"order_code"`
	From          OrderStatus   `json:"from"`
	To            OrderStatus   `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Cause         string        `json:"cause"`
	Customer      CustomerInfo  `json:"customer"`
}

// PaymentEvent published when reconciliation settles a transaction
type PaymentEvent struct {
	BaseEvent
	OrderID       int64   `json:"order_id"`
	OrderCode     string  `json:"order_code"`
	TransactionID string  `json:"transaction_id"`
	Gateway       Gateway `json:"gateway"`
	Amount        int64   `json:"amount"`
	Reason        string  `json:"reason,omitempty"`
}
