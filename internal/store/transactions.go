package store

import (
	"context"
	"database/sql"
	"errors"

	"evshop-payment/internal/models"

	"github.com/lib/pq"
)

const transactionColumns = `id, order_id, transaction_id, gateway, amount, status, gateway_ref,
	gateway_response, metadata, created_at, updated_at`

// CreateTransaction inserts a payment attempt
func (s *Store) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (order_id, transaction_id, gateway, amount, status, gateway_ref, gateway_response, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		txn.OrderID, txn.TransactionID, txn.Gateway, txn.Amount, txn.Status,
		txn.GatewayRef, txn.GatewayResponse, txn.Metadata,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	return mapPQError(err)
}

// GetTransaction retrieves a transaction by its correlation id
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.GetContext(ctx, &txn,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE transaction_id = $1", transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionByGatewayRef retrieves a transaction by the provider-side id
func (s *Store) GetTransactionByGatewayRef(ctx context.Context, gateway models.Gateway, ref string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.GetContext(ctx, &txn,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE gateway = $1 AND gateway_ref = $2", gateway, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactionsByOrder retrieves all attempts for an order, newest first
func (s *Store) ListTransactionsByOrder(ctx context.Context, orderID int64) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := s.db.SelectContext(ctx, &txns,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE order_id = $1 ORDER BY created_at DESC, id DESC", orderID)
	return txns, err
}

// AttachGatewayRef records the provider id and merges metadata on a non-terminal transaction
func (s *Store) AttachGatewayRef(ctx context.Context, transactionID, ref string, metadata models.JSONMap) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET gateway_ref = $1, metadata = metadata || $2::jsonb, updated_at = NOW()
		WHERE transaction_id = $3 AND status IN ('pending', 'processing')`,
		ref, metadata, transactionID)
	return err
}

// SettleTransaction moves a transaction to status only if it is currently in one of from.
// This single statement is the atomic read-check-write that decides which of
// several concurrent callbacks wins. When nothing matched, the current row is
// returned with applied=false.
func (s *Store) SettleTransaction(
	ctx context.Context,
	transactionID string,
	from []models.TransactionStatus,
	to models.TransactionStatus,
	response models.JSONMap,
	metadata models.JSONMap,
) (*models.PaymentTransaction, bool, error) {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}

	var txn models.PaymentTransaction
	err := s.db.GetContext(ctx, &txn, `
		UPDATE payment_transactions
		SET status = $1, gateway_response = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE transaction_id = $4 AND status = ANY($5)
		RETURNING `+transactionColumns,
		to, response, metadata, transactionID, pq.Array(statuses))
	if err == nil {
		return &txn, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	current, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}
