package service

import (
	"context"
	"errors"
	"fmt"

	"evshop-payment/internal/gateway"
	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Outcome of reconciling one callback
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePending   Outcome = "pending"
	OutcomeFlagged   Outcome = "flagged"
)

// ReconcileResult describes what a callback did
type ReconcileResult struct {
	Outcome      Outcome                    `json:"outcome"`
	Transaction  *models.PaymentTransaction `json:"transaction,omitempty"`
	Order        *models.Order              `json:"-"`
	ResponseCode string                     `json:"response_code,omitempty"`
}

// Reconciler applies verified callbacks to transactions and orders.
// The conditional transaction update is the only arbiter between concurrent
// callbacks; only its winner touches the order or publishes events.
type Reconciler struct {
	repo     Repository
	ledger   *Ledger
	notifier Notifier
	logger   *zap.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(repo Repository, ledger *Ledger, notifier Notifier) *Reconciler {
	return &Reconciler{
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// Reconcile applies ver. An invalid verification changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, ver *gateway.Verification) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile",
		attribute.String("gateway", string(ver.Gateway)),
		attribute.String("transaction_id", ver.CorrelationID))
	defer span.End()

	if !ver.Valid {
		util.PaymentCallbacksTotal.WithLabelValues(string(ver.Gateway), "invalid_signature").Inc()
		r.logger.Warn("Rejected callback with invalid signature",
			zap.String("gateway", string(ver.Gateway)),
			zap.String("transaction_id", ver.CorrelationID),
			zap.String("reason", ver.Reason))
		return nil, &models.InvalidSignatureError{Gateway: ver.Gateway, Reason: ver.Reason}
	}

	txn, err := r.repo.GetTransaction(ctx, ver.CorrelationID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if txn.Gateway != ver.Gateway {
		return nil, fmt.Errorf("%w: %s belongs to %s", models.ErrTransactionNotFound, txn.TransactionID, txn.Gateway)
	}

	if txn.Status == models.TransactionStatusSuccess {
		return r.book(ctx, ver, txn)
	}
	if txn.Status.Terminal() {
		return r.duplicate(ver, txn), nil
	}
	if ver.Pending {
		util.PaymentCallbacksTotal.WithLabelValues(string(ver.Gateway), string(OutcomePending)).Inc()
		return &ReconcileResult{Outcome: OutcomePending, Transaction: txn, ResponseCode: ver.ResponseCode}, nil
	}

	switch {
	case ver.Success && (ver.Inexact || ver.Amount != txn.Amount):
		return r.mismatch(ctx, ver, txn)
	case ver.Success:
		return r.succeed(ctx, ver, txn)
	default:
		return r.decline(ctx, ver, txn)
	}
}

func (r *Reconciler) duplicate(ver *gateway.Verification, txn *models.PaymentTransaction) *ReconcileResult {
	util.PaymentCallbacksTotal.WithLabelValues(string(ver.Gateway), string(OutcomeDuplicate)).Inc()
	r.logger.Info("Duplicate callback ignored",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("status", string(txn.Status)))
	return &ReconcileResult{Outcome: OutcomeDuplicate, Transaction: txn, ResponseCode: ver.ResponseCode}
}

func (r *Reconciler) succeed(ctx context.Context, ver *gateway.Verification, txn *models.PaymentTransaction) (*ReconcileResult, error) {
	settled, applied, err := r.repo.SettleTransaction(ctx, txn.TransactionID, activeTxnStatuses,
		models.TransactionStatusSuccess, ver.Raw, models.JSONMap{"gateway_ref": ver.GatewayRef})
	if err != nil {
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}
	if !applied && settled.Status != models.TransactionStatusSuccess {
		return r.duplicate(ver, settled), nil
	}
	return r.book(ctx, ver, settled)
}

// book applies a successful transaction to its order. It runs again on every
// repeated success callback, so a settle whose order update failed is finished
// by the gateway's retry.
func (r *Reconciler) book(ctx context.Context, ver *gateway.Verification, settled *models.PaymentTransaction) (*ReconcileResult, error) {
	cause := fmt.Sprintf("Payment of %d VND received via %s (%s)", settled.Amount, settled.Gateway, settled.TransactionID)
	order, applied, err := r.ledger.ApplyPayment(ctx, settled.OrderID, settled.TransactionID, settled.Amount, cause)
	if err != nil {
		r.logger.Error("Transaction settled but order update failed",
			zap.String("transaction_id", settled.TransactionID),
			zap.Int64("order_id", settled.OrderID),
			zap.Error(err))
		return nil, err
	}
	if !applied {
		return r.duplicate(ver, settled), nil
	}

	util.PaymentCallbacksTotal.WithLabelValues(string(ver.Gateway), string(OutcomeSuccess)).Inc()
	r.publish(ctx, models.EventTypePaymentSucceeded, order, settled, "")
	return &ReconcileResult{Outcome: OutcomeSuccess, Transaction: settled, Order: order, ResponseCode: ver.ResponseCode}, nil
}

func (r *Reconciler) decline(ctx context.Context, ver *gateway.Verification, txn *models.PaymentTransaction) (*ReconcileResult, error) {
	settled, applied, err := r.repo.SettleTransaction(ctx, txn.TransactionID, activeTxnStatuses,
		models.TransactionStatusFailed, ver.Raw, models.JSONMap{"failure_code": ver.ResponseCode})
	if err != nil {
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}
	if !applied {
		return r.duplicate(ver, settled), nil
	}

	cause := fmt.Sprintf("Payment via %s not completed (code %s)", settled.Gateway, ver.ResponseCode)
	order, err := r.ledger.Note(ctx, settled.OrderID, cause)
	if err != nil {
		return nil, err
	}

	util.PaymentCallbacksTotal.WithLabelValues(string(ver.Gateway), string(OutcomeFailed)).Inc()
	r.publish(ctx, models.EventTypePaymentFailed, order, settled, cause)
	return &ReconcileResult{Outcome: OutcomeFailed, Transaction: settled, Order: order, ResponseCode: ver.ResponseCode}, nil
}

func (r *Reconciler) mismatch(ctx context.Context, ver *gateway.Verification, txn *models.PaymentTransaction) (*ReconcileResult, error) {
	mismatch := &models.AmountMismatchError{TransactionID: txn.TransactionID, Expected: txn.Amount, Actual: ver.Amount}

	settled, applied, err := r.repo.SettleTransaction(ctx, txn.TransactionID, activeTxnStatuses,
		models.TransactionStatusFailed, ver.Raw, models.JSONMap{
			"failure_code":    "amount_mismatch",
			"reported_amount": ver.Amount,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}
	if !applied {
		return r.duplicate(ver, settled), nil
	}

	util.PaymentAmountMismatchTotal.WithLabelValues(string(ver.Gateway)).Inc()
	util.PaymentCallbacksTotal.WithLabelValues(string(ver.Gateway), string(OutcomeFlagged)).Inc()
	r.logger.Error("Payment amount mismatch",
		zap.String("gateway", string(ver.Gateway)),
		zap.String("transaction_id", txn.TransactionID),
		zap.Int64("expected", txn.Amount),
		zap.Int64("actual", ver.Amount))

	order, err := r.ledger.Flag(ctx, settled.OrderID, mismatch.Error())
	if err != nil {
		return nil, errors.Join(mismatch, err)
	}
	r.publish(ctx, models.EventTypePaymentFlagged, order, settled, mismatch.Error())
	return &ReconcileResult{Outcome: OutcomeFlagged, Transaction: settled, Order: order, ResponseCode: ver.ResponseCode}, mismatch
}

func (r *Reconciler) publish(ctx context.Context, eventType string, order *models.Order, txn *models.PaymentTransaction, reason string) {
	if r.notifier == nil || order == nil {
		return
	}
	if err := r.notifier.PaymentSettled(ctx, eventType, order, txn, reason); err != nil {
		util.NotificationFailuresTotal.WithLabelValues("payment").Inc()
		r.logger.Warn("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.String("transaction_id", txn.TransactionID),
			zap.Error(err))
	}
}
