package service

import (
	"context"
	"errors"
	"testing"

	"evshop-payment/internal/models"
	"evshop-payment/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAppendsHistoryAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)

	updated, applied, err := env.ledger.Transition(context.Background(), order.ID, models.OrderStatusCancelled, "Customer changed mind")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.OrderStatusCancelled, updated.Statuses)
	require.Len(t, updated.TrackingHistory, 2)
	assert.Equal(t, "Customer changed mind", updated.TrackingHistory[1].Note)
	assert.Equal(t, []statusChange{{OrderCode: "DH000777", From: models.OrderStatusPendingPayment, To: models.OrderStatusCancelled}},
		env.notifier.statusChanges())
}

func TestIllegalTransitionIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)

	updated, applied, err := env.ledger.Transition(context.Background(), order.ID, models.OrderStatusCompleted, "skip ahead")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.OrderStatusPendingPayment, updated.Statuses)
	assert.Len(t, updated.TrackingHistory, 1)
	assert.Empty(t, env.notifier.statusChanges())
}

func TestTerminalOrderStaysTerminal(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	_, _, err := env.ledger.Transition(ctx, order.ID, models.OrderStatusCancelled, "cancel")
	require.NoError(t, err)

	for _, target := range []models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusPendingPayment, models.OrderStatusRefunded} {
		_, applied, err := env.ledger.Transition(ctx, order.ID, target, "retry")
		require.NoError(t, err)
		assert.False(t, applied, target)
	}
}

func TestNotifierFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	env.notifier.err = errors.New("kafka down")

	updated, applied, err := env.ledger.Transition(context.Background(), order.ID, models.OrderStatusCancelled, "cancel")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.OrderStatusCancelled, updated.Statuses)
}

// conflictingRepo fails the first n order updates with a version conflict
type conflictingRepo struct {
	*store.MemoryStore
	conflicts int
}

func (r *conflictingRepo) UpdateOrder(ctx context.Context, o *models.Order) error {
	if r.conflicts > 0 {
		r.conflicts--
		return models.ErrVersionConflict
	}
	return r.MemoryStore.UpdateOrder(ctx, o)
}

func TestLedgerRetriesVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)

	repo := &conflictingRepo{MemoryStore: env.repo, conflicts: 2}
	ledger := NewLedger(repo, env.notifier)

	updated, applied, err := ledger.Transition(context.Background(), order.ID, models.OrderStatusCancelled, "cancel")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.OrderStatusCancelled, updated.Statuses)

	repo.conflicts = maxLedgerRetries
	_, err = ledger.Note(context.Background(), order.ID, "never lands")
	assert.ErrorIs(t, err, models.ErrVersionConflict)
}

func TestApplyPaymentSplitsDepositAndRemainder(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodDeposit)
	ctx := context.Background()

	updated, _, err := env.ledger.ApplyPayment(ctx, order.ID, "T-DEP", order.DepositAmount, "deposit")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDepositPaid, updated.Statuses)
	assert.Equal(t, models.PaymentStatusPartial, updated.PaymentStatus)

	updated, _, err = env.ledger.ApplyPayment(ctx, order.ID, "T-REM", order.RemainingAmount, "remainder")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, updated.Statuses)
	assert.Equal(t, models.PaymentStatusCompleted, updated.PaymentStatus)
	assert.Equal(t, order.TotalAmount, updated.PaidAmount)
}

func TestApplyPaymentOnCancelledOrderIsFlagged(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	_, _, err := env.ledger.Transition(ctx, order.ID, models.OrderStatusCancelled, "expired")
	require.NoError(t, err)

	updated, _, err := env.ledger.ApplyPayment(ctx, order.ID, "T-LATE", order.TotalAmount, "late payment")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Statuses)
	assert.True(t, updated.NeedsReview)
	assert.Equal(t, order.TotalAmount, updated.PaidAmount)
}

func TestApplyPaymentBooksTransactionOnce(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	updated, applied, err := env.ledger.ApplyPayment(ctx, order.ID, "T1", order.TotalAmount, "paid")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StringList{"T1"}, updated.AppliedPayments)

	updated, applied, err = env.ledger.ApplyPayment(ctx, order.ID, "T1", order.TotalAmount, "paid again")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, order.TotalAmount, updated.PaidAmount)
	assert.Len(t, updated.TrackingHistory, 2)
	assert.False(t, updated.NeedsReview)
}

func TestApplyPaymentFlagsOverpayment(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	updated, _, err := env.ledger.ApplyPayment(ctx, order.ID, "T1", order.TotalAmount, "first")
	require.NoError(t, err)
	assert.False(t, updated.NeedsReview)

	updated, applied, err := env.ledger.ApplyPayment(ctx, order.ID, "T2", order.TotalAmount, "second")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2*order.TotalAmount, updated.PaidAmount)
	assert.Equal(t, models.OrderStatusProcessing, updated.Statuses)
	assert.True(t, updated.NeedsReview)
}

func TestReviewKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)

	updated, err := env.ledger.Review(context.Background(), order.ID, "manual check")
	require.NoError(t, err)
	assert.True(t, updated.NeedsReview)
	assert.Equal(t, models.OrderStatusPendingPayment, updated.Statuses)
	assert.Empty(t, env.notifier.statusChanges())
}
