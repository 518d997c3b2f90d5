package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"evshop-payment/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

var txnCols = []string{"id", "order_id", "transaction_id", "gateway", "amount", "status",
	"gateway_ref", "gateway_response", "metadata", "created_at", "updated_at"}

func TestSettleTransactionApplied(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payment_transactions")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "DH000777_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(txnCols).
			AddRow(1, 7, "DH000777_1", "vnpay", 10000000, "success", "", []byte(`{"vnp_ResponseCode":"00"}`), []byte(`{}`), now, now))

	txn, applied, err := s.SettleTransaction(context.Background(), "DH000777_1",
		[]models.TransactionStatus{models.TransactionStatusPending},
		models.TransactionStatusSuccess, models.JSONMap{"vnp_ResponseCode": "00"}, nil)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, models.GatewayVNPay, txn.Gateway)
	assert.Equal(t, "00", txn.GatewayResponse.String("vnp_ResponseCode"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleTransactionAlreadyTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payment_transactions")).
		WillReturnRows(sqlmock.NewRows(txnCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_transactions WHERE transaction_id = $1")).
		WithArgs("DH000777_1").
		WillReturnRows(sqlmock.NewRows(txnCols).
			AddRow(1, 7, "DH000777_1", "vnpay", 10000000, "success", "", []byte(`{}`), []byte(`{}`), now, now))

	txn, applied, err := s.SettleTransaction(context.Background(), "DH000777_1",
		[]models.TransactionStatus{models.TransactionStatusPending},
		models.TransactionStatusSuccess, nil, nil)

	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_transactions WHERE transaction_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(txnCols))

	_, err := s.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestCreateOrderDuplicateCode(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_order_code_key"})

	err := s.CreateOrder(context.Background(), &models.Order{OrderCode: "DH000777"})
	assert.True(t, errors.Is(err, models.ErrDuplicateKey))
}

func TestCreateOrderReturnsID(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).
			AddRow(42, 1, now, now))

	order := &models.Order{
		OrderCode:    "DH000777",
		Statuses:     models.OrderStatusPendingPayment,
		CustomerInfo: models.CustomerInfo{Name: "An", Phone: "0900000000"},
	}
	require.NoError(t, s.CreateOrder(context.Background(), order))
	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, int64(1), order.Version)
}

func TestUpdateOrderVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}))

	err := s.UpdateOrder(context.Background(), &models.Order{ID: 1, Version: 3})
	assert.ErrorIs(t, err, models.ErrVersionConflict)
}

func TestUpdateOrderWritesAppliedPayments(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders")).
		WithArgs(models.OrderStatusProcessing, models.PaymentStatusCompleted, int64(10000000),
			sqlmock.AnyArg(), false, `["DH000777_1"]`, int64(1), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(4, now))

	order := &models.Order{
		ID:              1,
		Version:         3,
		Statuses:        models.OrderStatusProcessing,
		PaymentStatus:   models.PaymentStatusCompleted,
		PaidAmount:      10000000,
		AppliedPayments: models.StringList{"DH000777_1"},
	}
	require.NoError(t, s.UpdateOrder(context.Background(), order))
	assert.Equal(t, int64(4), order.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByCodeNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE order_code = $1")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrderByCode(context.Background(), "NOPE")
	var notFound *models.OrderNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestMemoryStoreSettleOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.CreateTransaction(ctx, &models.PaymentTransaction{
		OrderID: 1, TransactionID: "T1", Gateway: models.GatewayMoMo,
		Amount: 100, Status: models.TransactionStatusPending,
	}))

	from := []models.TransactionStatus{models.TransactionStatusPending, models.TransactionStatusProcessing}

	_, applied, err := m.SettleTransaction(ctx, "T1", from, models.TransactionStatusSuccess, nil, models.JSONMap{"k": "v"})
	require.NoError(t, err)
	assert.True(t, applied)

	txn, applied, err := m.SettleTransaction(ctx, "T1", from, models.TransactionStatusFailed, nil, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, "v", txn.Metadata.String("k"))

	err = m.CreateTransaction(ctx, &models.PaymentTransaction{TransactionID: "T1"})
	assert.ErrorIs(t, err, models.ErrDuplicateKey)
}

func TestMemoryStoreVersionCheck(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	order := &models.Order{OrderCode: "DH000001", Statuses: models.OrderStatusPendingPayment}
	require.NoError(t, m.CreateOrder(ctx, order))

	stale := *order
	order.Statuses = models.OrderStatusProcessing
	require.NoError(t, m.UpdateOrder(ctx, order))
	assert.Equal(t, int64(2), order.Version)

	stale.Statuses = models.OrderStatusCancelled
	assert.ErrorIs(t, m.UpdateOrder(ctx, &stale), models.ErrVersionConflict)
}
