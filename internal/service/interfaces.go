package service

import (
	"context"
	"io"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/redisclient"
)

// OrderRepository is the order half of the store
type OrderRepository interface {
	GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByCode(ctx context.Context, code string) (*models.Order, error)
	ListOrdersByPhone(ctx context.Context, phone string) ([]models.Order, error)
	ListStaleOrders(ctx context.Context, status models.OrderStatus, before time.Time, limit int) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
}

// TransactionRepository is the payment transaction half of the store
type TransactionRepository interface {
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)
	GetTransactionByGatewayRef(ctx context.Context, gateway models.Gateway, ref string) (*models.PaymentTransaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID int64) ([]models.PaymentTransaction, error)
	AttachGatewayRef(ctx context.Context, transactionID, ref string, metadata models.JSONMap) error
	SettleTransaction(ctx context.Context, transactionID string, from []models.TransactionStatus,
		to models.TransactionStatus, response, metadata models.JSONMap) (*models.PaymentTransaction, bool, error)
}

// Repository is implemented by store.Store and store.MemoryStore
type Repository interface {
	OrderRepository
	TransactionRepository
}

// Notifier publishes domain events. Callers log failures and carry on.
type Notifier interface {
	OrderCreated(ctx context.Context, order *models.Order) error
	OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus, cause string) error
	PaymentSettled(ctx context.Context, eventType string, order *models.Order, txn *models.PaymentTransaction, reason string) error
}

// OTPSender delivers a one-time code to the customer. Codes are never published as events.
type OTPSender interface {
	SendOTP(ctx context.Context, phone, email, code string, expiresAt time.Time) error
}

// OTPStore holds hashed one-time codes and resend cooldowns
type OTPStore interface {
	StoreOTP(ctx context.Context, phone, codeHash string, ttl time.Duration) error
	VerifyOTP(ctx context.Context, phone, codeHash string, maxAttempts int) (redisclient.OTPResult, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// MediaStore keeps uploaded files and returns their public URL
type MediaStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// TokenIssuer mints guest tokens after OTP verification
type TokenIssuer interface {
	IssueGuest(phone string, ttl time.Duration) (string, error)
}

var activeTxnStatuses = []models.TransactionStatus{
	models.TransactionStatusPending,
	models.TransactionStatusProcessing,
}
