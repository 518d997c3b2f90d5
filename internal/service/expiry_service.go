package service

import (
	"context"
	"fmt"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"go.uber.org/zap"
)

const expiryBatchSize = 100

// ExpiryService cancels orders left in pending_payment past the timeout
type ExpiryService struct {
	repo    Repository
	ledger  *Ledger
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewExpiryService creates the expiry service
func NewExpiryService(repo Repository, ledger *Ledger, timeout time.Duration) *ExpiryService {
	return &ExpiryService{
		repo:    repo,
		ledger:  ledger,
		timeout: timeout,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// ExpireStaleOrders cancels stale orders and returns how many were cancelled.
// Orders with a proof awaiting review or a recent open attempt are skipped.
// Orders holding a settled but unbooked payment get it booked and are flagged.
func (s *ExpiryService) ExpireStaleOrders(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ExpiryService.ExpireStaleOrders")
	defer span.End()

	cutoff := s.now().Add(-s.timeout)
	orders, err := s.repo.ListStaleOrders(ctx, models.OrderStatusPendingPayment, cutoff, expiryBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		txns, err := s.repo.ListTransactionsByOrder(ctx, o.ID)
		if err != nil {
			s.logger.Warn("Failed to inspect order transactions", zap.String("order_code", o.OrderCode), zap.Error(err))
			continue
		}
		if unbooked := unbookedSuccesses(&o, txns); len(unbooked) > 0 {
			s.recoverPayments(ctx, &o, unbooked)
			continue
		}
		if hasOpenAttempt(txns, cutoff) {
			continue
		}

		_, applied, err := s.ledger.Transition(ctx, o.ID, models.OrderStatusCancelled, "Order expired: no payment received in time")
		if err != nil {
			s.logger.Warn("Failed to expire order", zap.String("order_code", o.OrderCode), zap.Error(err))
			continue
		}
		if applied {
			expired++
			util.OrdersExpiredTotal.Inc()
		}
	}

	if expired > 0 {
		s.logger.Info("Expired stale orders", zap.Int("count", expired))
	}
	return expired, nil
}

func hasOpenAttempt(txns []models.PaymentTransaction, cutoff time.Time) bool {
	for _, t := range txns {
		switch {
		case t.Status == models.TransactionStatusProcessing:
			return true
		case t.Status == models.TransactionStatusPending && t.CreatedAt.After(cutoff):
			return true
		}
	}
	return false
}

// unbookedSuccesses returns settled payments that never reached the order
func unbookedSuccesses(o *models.Order, txns []models.PaymentTransaction) []models.PaymentTransaction {
	var out []models.PaymentTransaction
	for _, t := range txns {
		if t.Status == models.TransactionStatusSuccess && !o.Applied(t.TransactionID) {
			out = append(out, t)
		}
	}
	return out
}

// recoverPayments books payments found settled on an order about to expire
// and flags the order. It is never cancelled in the same pass.
func (s *ExpiryService) recoverPayments(ctx context.Context, o *models.Order, txns []models.PaymentTransaction) {
	for _, t := range txns {
		s.logger.Error("Settled payment missing from order",
			zap.String("order_code", o.OrderCode),
			zap.String("transaction_id", t.TransactionID),
			zap.Int64("amount", t.Amount))

		cause := fmt.Sprintf("Payment of %d VND via %s (%s) recovered before expiry", t.Amount, t.Gateway, t.TransactionID)
		if _, _, err := s.ledger.ApplyPayment(ctx, o.ID, t.TransactionID, t.Amount, cause); err != nil {
			s.logger.Error("Failed to recover payment", zap.String("transaction_id", t.TransactionID), zap.Error(err))
		}
	}
	if _, err := s.ledger.Review(ctx, o.ID, "Settled payment was not booked in time"); err != nil {
		s.logger.Error("Failed to flag order", zap.String("order_code", o.OrderCode), zap.Error(err))
	}
}
