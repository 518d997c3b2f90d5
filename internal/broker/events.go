package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// EventPublisher turns ledger and reconciliation notifications into domain events
type EventPublisher struct {
	producer *Producer
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

// publish bounds the broker write so a slow cluster never stalls a callback
func (ep *EventPublisher) publish(ctx context.Context, key string, event interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ep.producer.PublishEvent(ctx, key, event)
}

func orderKey(code string) string {
	return fmt.Sprintf("order-%s", code)
}

// OrderCreated publishes ORDER_CREATED
func (ep *EventPublisher) OrderCreated(ctx context.Context, order *models.Order) error {
	return ep.publish(ctx, orderKey(order.OrderCode), &models.OrderCreatedEvent{
		BaseEvent:   ep.base(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderCode:   order.OrderCode,
		TotalAmount: order.TotalAmount,
		Customer:    order.CustomerInfo,
	})
}

// OrderStatusChanged publishes ORDER_STATUS_CHANGED
func (ep *EventPublisher) OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus, cause string) error {
	return ep.publish(ctx, orderKey(order.OrderCode), &models.OrderStatusChangedEvent{
		BaseEvent:     ep.base(models.EventTypeOrderStatusChanged),
		OrderID:       order.ID,
		OrderCode:     order.OrderCode,
		From:          from,
		To:            order.Statuses,
		PaymentStatus: order.PaymentStatus,
		Cause:         cause,
		Customer:      order.CustomerInfo,
	})
}

// PaymentSettled publishes PAYMENT_SUCCEEDED, PAYMENT_FAILED or PAYMENT_FLAGGED
func (ep *EventPublisher) PaymentSettled(ctx context.Context, eventType string, order *models.Order, txn *models.PaymentTransaction, reason string) error {
	return ep.publish(ctx, orderKey(order.OrderCode), &models.PaymentEvent{
		BaseEvent:     ep.base(eventType),
		OrderID:       order.ID,
		OrderCode:     order.OrderCode,
		TransactionID: txn.TransactionID,
		Gateway:       txn.Gateway,
		Amount:        txn.Amount,
		Reason:        reason,
	})
}

// EventHandler routes incoming events by type
type EventHandler struct {
	onOrderCreated  func(context.Context, *models.OrderCreatedEvent) error
	onStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	onPayment       func(context.Context, *models.PaymentEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderCreated registers a handler for ORDER_CREATED
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderStatusChanged registers a handler for ORDER_STATUS_CHANGED
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onStatusChanged = handler
}

// OnPayment registers a handler for every PAYMENT_* event
func (eh *EventHandler) OnPayment(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPayment = handler
}

func decode(msg kafka.Message, dst interface{}, eventType string) error {
	if err := json.Unmarshal(msg.Value, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", eventType, err)
	}
	return nil
}

// HandleMessage routes messages to the registered handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := decode(msg, &event, baseEvent.EventType); err != nil {
				return err
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := decode(msg, &event, baseEvent.EventType); err != nil {
				return err
			}
			return eh.onStatusChanged(ctx, &event)
		}

	case models.EventTypePaymentSucceeded, models.EventTypePaymentFailed, models.EventTypePaymentFlagged:
		if eh.onPayment != nil {
			var event models.PaymentEvent
			if err := decode(msg, &event, baseEvent.EventType); err != nil {
				return err
			}
			return eh.onPayment(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
