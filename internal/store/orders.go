package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evshop-payment/internal/models"
)

const orderColumns = `id, order_code, vehicle_id, statuses, payment_method, payment_status,
	base_price, discount, fees, total_amount, deposit_amount, remaining_amount, paid_amount,
	customer_info, selected_showroom, selected_color, appointment_date, tracking_history,
	needs_review, applied_payments, version, created_at, updated_at`

// CreateOrder inserts a new order. A clashing order code yields models.ErrDuplicateKey.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_code, vehicle_id, statuses, payment_method, payment_status,
			base_price, discount, fees, total_amount, deposit_amount, remaining_amount, paid_amount,
			customer_info, selected_showroom, selected_color, appointment_date, tracking_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, version, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		order.OrderCode, order.VehicleID, order.Statuses, order.PaymentMethod, order.PaymentStatus,
		order.BasePrice, order.Discount, order.Fees, order.TotalAmount, order.DepositAmount,
		order.RemainingAmount, order.PaidAmount, order.CustomerInfo, order.SelectedShowroom,
		order.SelectedColor, order.AppointmentDate, order.TrackingHistory,
	).Scan(&order.ID, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	return mapPQError(err)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.OrderNotFoundError{Ref: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByCode retrieves an order by its public code
func (s *Store) GetOrderByCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE order_code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.OrderNotFoundError{Ref: code}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByPhone retrieves orders placed with a normalized phone number, newest first
func (s *Store) ListOrdersByPhone(ctx context.Context, phone string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE customer_info->>'phone' = $1 ORDER BY created_at DESC", phone)
	return orders, err
}

// ListStaleOrders returns orders sitting in status since before the cutoff
func (s *Store) ListStaleOrders(ctx context.Context, status models.OrderStatus, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE statuses = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		status, before, limit)
	return orders, err
}

// UpdateOrder persists the ledger-owned fields, guarded by the row version.
// models.ErrVersionConflict means another writer got there first.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET statuses = $1, payment_status = $2, paid_amount = $3, tracking_history = $4,
			needs_review = $5, applied_payments = $6, version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8
		RETURNING version, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		order.Statuses, order.PaymentStatus, order.PaidAmount, order.TrackingHistory,
		order.NeedsReview, order.AppliedPayments, order.ID, order.Version,
	).Scan(&order.Version, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrVersionConflict
	}
	return err
}
