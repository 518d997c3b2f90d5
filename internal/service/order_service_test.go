package service

import (
	"context"
	"errors"
	"testing"

	"evshop-payment/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderPricing(t *testing.T) {
	tests := []struct {
		name      string
		method    models.PaymentMethod
		deposit   int64
		remaining int64
	}{
		{"full payment", models.PaymentMethodFull, 0, 1_000_000},
		{"deposit", models.PaymentMethodDeposit, 100_000, 900_000},
		{"installment", models.PaymentMethodInstallment, 100_000, 900_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			order := env.createOrder(t, tt.method)

			assert.Equal(t, "DH000777", order.OrderCode)
			assert.Equal(t, models.OrderStatusPendingPayment, order.Statuses)
			assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
			assert.Equal(t, int64(1_100_000), order.BasePrice)
			assert.Equal(t, int64(100_000), order.Discount)
			assert.Equal(t, int64(1_000_000), order.TotalAmount)
			assert.Equal(t, tt.deposit, order.DepositAmount)
			assert.Equal(t, tt.remaining, order.RemainingAmount)
			assert.Equal(t, "#FF0000", order.SelectedColor)
			require.Len(t, order.TrackingHistory, 1)
		})
	}
}

func TestCreateOrderAddsFees(t *testing.T) {
	env := newTestEnv(t)
	env.orders.pricing.FeesVND = 50_000

	order := env.createOrder(t, models.PaymentMethodFull)
	assert.Equal(t, int64(1_050_000), order.TotalAmount)
	assert.Equal(t, []string{"DH000777"}, env.notifier.created)
}

func TestCreateOrderNormalizesPhone(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		VehicleID:     env.vehicle.ID,
		PaymentMethod: models.PaymentMethodFull,
		Customer:      CustomerRequest{Name: "B", Phone: "+84 901 234 567", Email: "b@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0901234567", order.CustomerInfo.Phone)
	assert.Empty(t, order.SelectedColor)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		VehicleID:     env.vehicle.ID,
		PaymentMethod: models.PaymentMethodFull,
		SelectedColor: "#12345",
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		VehicleID:     999,
		PaymentMethod: models.PaymentMethodFull,
	})
	assert.ErrorIs(t, err, models.ErrVehicleNotFound)

	inactive := env.repo.PutVehicle(models.Vehicle{SKU: "OLD", Price: 1, Active: false})
	_, err = env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		VehicleID:     inactive.ID,
		PaymentMethod: models.PaymentMethodFull,
	})
	assert.ErrorIs(t, err, models.ErrVehicleNotFound)
}

func TestCreateOrderRetriesCodeCollision(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, models.PaymentMethodFull)

	codes := []string{"DH000777", "DH000777", "DH000778"}
	env.orders.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	order := env.createOrder(t, models.PaymentMethodFull)
	assert.Equal(t, "DH000778", order.OrderCode)

	env.orders.newCode = func() (string, error) { return "DH000777", nil }
	_, err := env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		VehicleID:     env.vehicle.ID,
		PaymentMethod: models.PaymentMethodFull,
	})
	assert.ErrorIs(t, err, models.ErrDuplicateKey)
}

func TestRandomOrderCodeFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := randomOrderCode()
		require.NoError(t, err)
		assert.Regexp(t, `^DH\d{6}$`, code)
	}
}

func TestGetOrderNormalizesCode(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, models.PaymentMethodFull)

	order, err := env.orders.GetOrder(context.Background(), "  dh000777 ")
	require.NoError(t, err)
	assert.Equal(t, "DH000777", order.OrderCode)

	_, err = env.orders.GetOrder(context.Background(), "DH000001")
	var nf *models.OrderNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	_, applied, err := env.orders.UpdateStatus(ctx, "DH000777", &UpdateStatusRequest{Status: models.OrderStatusReadyForPickup}, "ops")
	require.NoError(t, err)
	assert.False(t, applied, "pending_payment cannot jump to ready_for_pickup")

	updated, applied, err := env.orders.UpdateStatus(ctx, "DH000777", &UpdateStatusRequest{
		Status: models.OrderStatusCancelled,
		Note:   "Customer asked to cancel",
	}, "ops")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.OrderStatusCancelled, updated.Statuses)
	assert.Equal(t, "Customer asked to cancel (by ops)", updated.TrackingHistory[len(updated.TrackingHistory)-1].Note)

	_, _, err = env.orders.UpdateStatus(ctx, "DH000777", &UpdateStatusRequest{Status: "shipped"}, "ops")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
