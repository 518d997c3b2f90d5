package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxLedgerRetries = 5

// Ledger is the only writer of orders. Every write is version-checked and
// retried on conflict; status changes are announced through the notifier.
type Ledger struct {
	repo     OrderRepository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a new ledger
func NewLedger(repo OrderRepository, notifier Notifier) *Ledger {
	return &Ledger{
		repo:     repo,
		notifier: notifier,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// errNoChange tells mutate the callback decided not to write
var errNoChange = errors.New("no change")

// mutate loads the order, applies fn and persists it, reloading on version conflicts
func (l *Ledger) mutate(ctx context.Context, orderID int64, cause string, fn func(o *models.Order) error) (*models.Order, bool, error) {
	for attempt := 0; attempt < maxLedgerRetries; attempt++ {
		order, err := l.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		from := order.Statuses

		if err := fn(order); err != nil {
			if errors.Is(err, errNoChange) {
				return order, false, nil
			}
			return nil, false, err
		}

		err = l.repo.UpdateOrder(ctx, order)
		if errors.Is(err, models.ErrVersionConflict) {
			l.logger.Debug("Order version conflict, retrying",
				zap.Int64("order_id", orderID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to update order: %w", err)
		}

		if order.Statuses != from {
			util.OrderTransitionsTotal.WithLabelValues(string(from), string(order.Statuses)).Inc()
			l.logger.Info("Order status changed",
				zap.String("order_code", order.OrderCode),
				zap.String("from", string(from)),
				zap.String("to", string(order.Statuses)),
				zap.String("cause", cause))
			l.announce(ctx, order, from, cause)
		}
		return order, true, nil
	}
	return nil, false, fmt.Errorf("order %d: %w after %d attempts", orderID, models.ErrVersionConflict, maxLedgerRetries)
}

func (l *Ledger) announce(ctx context.Context, order *models.Order, from models.OrderStatus, cause string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.OrderStatusChanged(ctx, order, from, cause); err != nil {
		util.NotificationFailuresTotal.WithLabelValues("order_status").Inc()
		l.logger.Warn("Failed to publish order status change",
			zap.String("order_code", order.OrderCode),
			zap.Error(err))
	}
}

func (l *Ledger) track(o *models.Order, cause string) {
	o.TrackingHistory = append(o.TrackingHistory, models.TrackingEntry{
		Status:    o.Statuses,
		Timestamp: l.now(),
		Note:      cause,
	})
}

// Transition moves the order to target. An illegal transition is logged and
// reported as not applied, never as an error.
func (l *Ledger) Transition(ctx context.Context, orderID int64, target models.OrderStatus, cause string) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Transition",
		attribute.Int64("order_id", orderID),
		attribute.String("target", string(target)))
	defer span.End()

	return l.mutate(ctx, orderID, cause, func(o *models.Order) error {
		if err := models.ValidateTransition(o.Statuses, target); err != nil {
			var illegal *models.IllegalTransitionError
			if errors.As(err, &illegal) {
				util.IllegalTransitionsTotal.WithLabelValues(string(illegal.From), string(illegal.To)).Inc()
			}
			l.logger.Warn("Ignoring illegal order transition",
				zap.String("order_code", o.OrderCode),
				zap.Error(err),
				zap.String("cause", cause))
			return errNoChange
		}

		o.Statuses = target
		switch target {
		case models.OrderStatusRefunded:
			o.PaymentStatus = models.PaymentStatusRefunded
		case models.OrderStatusPaymentFailed:
			o.PaymentStatus = models.PaymentStatusFailed
		}
		l.track(o, cause)
		return nil
	})
}

// ApplyPayment books a settled transaction on its order. Each transaction is
// booked at most once; a repeat reports not applied. The status follows when the
// transition table allows it. Money arriving on a closed order, or beyond the
// order total, is booked and flagged for review.
func (l *Ledger) ApplyPayment(ctx context.Context, orderID int64, transactionID string, amount int64, cause string) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.ApplyPayment",
		attribute.Int64("order_id", orderID),
		attribute.String("transaction_id", transactionID),
		attribute.Int64("amount", amount))
	defer span.End()

	var closed bool
	order, applied, err := l.mutate(ctx, orderID, cause, func(o *models.Order) error {
		if o.Applied(transactionID) {
			return errNoChange
		}
		o.AppliedPayments = append(o.AppliedPayments, transactionID)
		o.PaidAmount += amount

		target := models.OrderStatusDepositPaid
		o.PaymentStatus = models.PaymentStatusPartial
		if o.PaidAmount >= o.TotalAmount {
			target = models.OrderStatusProcessing
			o.PaymentStatus = models.PaymentStatusCompleted
		}

		closed = false
		switch {
		case models.CanTransition(o.Statuses, target):
			o.Statuses = target
		case o.Statuses.Terminal():
			closed = true
			o.NeedsReview = true
		}
		if o.PaidAmount > o.TotalAmount {
			o.NeedsReview = true
		}
		l.track(o, cause)
		return nil
	})
	if err != nil || !applied {
		return order, applied, err
	}

	if closed {
		l.logger.Warn("Payment received on a closed order",
			zap.String("order_code", order.OrderCode),
			zap.String("status", string(order.Statuses)),
			zap.String("transaction_id", transactionID),
			zap.Int64("amount", amount))
	}
	if order.PaidAmount > order.TotalAmount {
		util.OrderOverpaymentsTotal.Inc()
		l.logger.Error("Order paid beyond its total",
			zap.String("order_code", order.OrderCode),
			zap.String("transaction_id", transactionID),
			zap.Int64("total", order.TotalAmount),
			zap.Int64("paid", order.PaidAmount))
	}
	return order, true, nil
}

// Note appends a tracking entry without changing status
func (l *Ledger) Note(ctx context.Context, orderID int64, cause string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Note", attribute.Int64("order_id", orderID))
	defer span.End()

	order, _, err := l.mutate(ctx, orderID, cause, func(o *models.Order) error {
		l.track(o, cause)
		return nil
	})
	return order, err
}

// Review marks the order for manual review and leaves its status alone
func (l *Ledger) Review(ctx context.Context, orderID int64, cause string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Review", attribute.Int64("order_id", orderID))
	defer span.End()

	order, _, err := l.mutate(ctx, orderID, cause, func(o *models.Order) error {
		o.NeedsReview = true
		l.track(o, cause)
		return nil
	})
	return order, err
}

// Flag marks an order for manual review after an integrity failure.
// The order moves to payment_failed when it has not been paid yet.
func (l *Ledger) Flag(ctx context.Context, orderID int64, cause string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Flag", attribute.Int64("order_id", orderID))
	defer span.End()

	order, _, err := l.mutate(ctx, orderID, cause, func(o *models.Order) error {
		o.NeedsReview = true
		if models.CanTransition(o.Statuses, models.OrderStatusPaymentFailed) {
			o.Statuses = models.OrderStatusPaymentFailed
			o.PaymentStatus = models.PaymentStatusFailed
		}
		l.track(o, cause)
		return nil
	})
	return order, err
}
