package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxOrderCodeAttempts = 3

// PricingConfig controls how checkout prices an order
type PricingConfig struct {
	DepositPercent int
	FeesVND        int64
}

// OrderService handles checkout and admin order operations
type OrderService struct {
	repo     OrderRepository
	ledger   *Ledger
	notifier Notifier
	pricing  PricingConfig
	logger   *zap.Logger
	newCode  func() (string, error)
	now      func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(repo OrderRepository, ledger *Ledger, notifier Notifier, pricing PricingConfig) *OrderService {
	return &OrderService{
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		pricing:  pricing,
		logger:   util.GetLogger(),
		newCode:  randomOrderCode,
		now:      time.Now,
	}
}

// CustomerRequest is the customer block of a checkout request
type CustomerRequest struct {
	Name    string `json:"name" binding:"required,max=120"`
	Phone   string `json:"phone" binding:"required,vnphone"`
	Email   string `json:"email" binding:"required,email"`
	Address string `json:"address" binding:"max=500"`
}

// CreateOrderRequest represents a checkout request
type CreateOrderRequest struct {
	VehicleID        int64                `json:"vehicle_id" binding:"required,min=1"`
	PaymentMethod    models.PaymentMethod `json:"payment_method" binding:"required,oneof=full_payment deposit installment"`
	Customer         CustomerRequest      `json:"customer" binding:"required"`
	SelectedShowroom string               `json:"selected_showroom" binding:"max=200"`
	SelectedColor    string               `json:"selected_color"`
	AppointmentDate  *time.Time           `json:"appointment_date"`
}

// CreateOrder prices the vehicle, creates the order in pending_payment and announces it
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.Int64("vehicle_id", req.VehicleID))
	defer span.End()

	color, err := models.NormalizeColor(req.SelectedColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	vehicle, err := s.repo.GetVehicleByID(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if !vehicle.Active {
		return nil, models.ErrVehicleNotFound
	}

	order := &models.Order{
		VehicleID:     vehicle.ID,
		Statuses:      models.OrderStatusPendingPayment,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: models.PaymentStatusPending,
		CustomerInfo: models.CustomerInfo{
			Name:    req.Customer.Name,
			Phone:   models.NormalizePhone(req.Customer.Phone),
			Email:   req.Customer.Email,
			Address: req.Customer.Address,
		},
		SelectedShowroom: req.SelectedShowroom,
		SelectedColor:    color,
		AppointmentDate:  req.AppointmentDate,
		TrackingHistory: models.TrackingHistory{{
			Status:    models.OrderStatusPendingPayment,
			Timestamp: s.now(),
			Note:      "Order created",
		}},
	}
	s.price(order, vehicle)

	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		order.OrderCode = code

		err = s.repo.CreateOrder(ctx, order)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrDuplicateKey) && attempt < maxOrderCodeAttempts {
			s.logger.Warn("Order code collision, regenerating", zap.String("order_code", code))
			continue
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_code", order.OrderCode),
		zap.Int64("total_amount", order.TotalAmount))

	if s.notifier != nil {
		if err := s.notifier.OrderCreated(ctx, order); err != nil {
			util.NotificationFailuresTotal.WithLabelValues("order_created").Inc()
			s.logger.Warn("Failed to publish order created event", zap.Error(err))
		}
	}
	return order, nil
}

// price fills the money fields. Sale price below list price becomes the discount.
func (s *OrderService) price(o *models.Order, v *models.Vehicle) {
	o.BasePrice = v.Price
	if v.SalePrice > 0 && v.SalePrice < v.Price {
		o.Discount = v.Price - v.SalePrice
	}
	o.Fees = s.pricing.FeesVND
	o.TotalAmount = o.BasePrice - o.Discount + o.Fees

	switch o.PaymentMethod {
	case models.PaymentMethodDeposit, models.PaymentMethodInstallment:
		o.DepositAmount = o.TotalAmount * int64(s.pricing.DepositPercent) / 100
		o.RemainingAmount = o.TotalAmount - o.DepositAmount
	default:
		o.DepositAmount = 0
		o.RemainingAmount = o.TotalAmount
	}
}

// GetOrder returns an order by its code
func (s *OrderService) GetOrder(ctx context.Context, code string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.repo.GetOrderByCode(ctx, models.NormalizeOrderCode(code))
}

// UpdateStatusRequest is an admin fulfilment update
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Note   string             `json:"note" binding:"max=500"`
}

// UpdateStatus applies an admin transition. The bool reports whether it was allowed.
func (s *OrderService) UpdateStatus(ctx context.Context, code string, req *UpdateStatusRequest, admin string) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !req.Status.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, req.Status)
	}
	order, err := s.repo.GetOrderByCode(ctx, models.NormalizeOrderCode(code))
	if err != nil {
		return nil, false, err
	}

	cause := req.Note
	if cause == "" {
		cause = fmt.Sprintf("Status set to %s", req.Status)
	}
	cause = fmt.Sprintf("%s (by %s)", cause, admin)
	return s.ledger.Transition(ctx, order.ID, req.Status, cause)
}

func randomOrderCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate order code: %w", err)
	}
	return fmt.Sprintf("DH%06d", n.Int64()), nil
}
