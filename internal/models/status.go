package models

// OrderStatus is the order state-machine state
type OrderStatus string

// Order statuses
const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusDepositPaid    OrderStatus = "deposit_paid"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
	OrderStatusPaymentFailed  OrderStatus = "payment_failed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusDepositPaid, OrderStatusProcessing, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusPaymentFailed:  {OrderStatusDepositPaid, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusDepositPaid:    {OrderStatusProcessing, OrderStatusReadyForPickup, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing:     {OrderStatusReadyForPickup, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusReadyForPickup: {OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded},
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusDepositPaid, OrderStatusProcessing,
		OrderStatusReadyForPickup, OrderStatusCompleted, OrderStatusCancelled,
		OrderStatusRefunded, OrderStatusPaymentFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransition reports whether from → to is in the transition table
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an *IllegalTransitionError when from → to is not allowed
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}

// PaymentMethod is how the customer chose to pay for the order
type PaymentMethod string

// Payment methods
const (
	PaymentMethodFull        PaymentMethod = "full_payment"
	PaymentMethodDeposit     PaymentMethod = "deposit"
	PaymentMethodInstallment PaymentMethod = "installment"
)

// PaymentStatus summarises how much of the order is paid
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPartial   PaymentStatus = "partial"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// TransactionStatus is the PaymentTransaction state
type TransactionStatus string

// Transaction statuses
const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// Terminal reports whether the transaction can no longer change
func (s TransactionStatus) Terminal() bool {
	return s != TransactionStatusPending && s != TransactionStatusProcessing
}

// Gateway identifies a payment provider
type Gateway string

// Gateways
const (
	GatewayVNPay        Gateway = "vnpay"
	GatewayMoMo         Gateway = "momo"
	GatewayPayOS        Gateway = "payos"
	GatewayPayPal       Gateway = "paypal"
	GatewayBankTransfer Gateway = "bank_transfer"
)
