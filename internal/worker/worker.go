package worker

import (
	"context"
	"fmt"
	"time"

	"evshop-payment/internal/broker"
	"evshop-payment/internal/mailer"
	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"go.uber.org/zap"
)

// Sender delivers one e-mail
type Sender interface {
	Send(ctx context.Context, m *mailer.Message) error
}

// NotificationWorker turns order and payment events into e-mails
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sender       Sender
	opsEmail     string
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. opsEmail receives
// integrity alerts; empty disables them.
func NewNotificationWorker(consumer *broker.Consumer, sender Sender, opsEmail string) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		sender:   sender,
		opsEmail: opsEmail,
		logger:   util.GetLogger(),
	}

	h := broker.NewEventHandler()
	h.OnOrderCreated(w.orderCreated)
	h.OnOrderStatusChanged(w.statusChanged)
	h.OnPayment(w.payment)
	w.eventHandler = h
	return w
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) send(ctx context.Context, kind, to string, tmpl string, data interface{}) error {
	return deliver(ctx, w.sender, kind, to, tmpl, data)
}

func deliver(ctx context.Context, sender Sender, kind, to string, tmpl string, data interface{}) error {
	if to == "" {
		return nil
	}
	msg, err := render(tmpl, data)
	if err != nil {
		return err
	}
	msg.To = []string{to}
	if err := sender.Send(ctx, msg); err != nil {
		util.NotificationFailuresTotal.WithLabelValues(kind).Inc()
		return fmt.Errorf("%s mail to %s: %w", kind, to, err)
	}
	return nil
}

func (w *NotificationWorker) orderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return w.send(ctx, "order_created", e.Customer.Email, tmplOrderCreated, e)
}

func (w *NotificationWorker) statusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return w.send(ctx, "order_status", e.Customer.Email, tmplStatusChanged, e)
}

// payment only alerts operations; customers hear about payments through the status change
func (w *NotificationWorker) payment(ctx context.Context, e *models.PaymentEvent) error {
	if e.EventType != models.EventTypePaymentFlagged {
		return nil
	}
	w.logger.Warn("Payment flagged for review",
		zap.String("order_code", e.OrderCode),
		zap.String("transaction_id", e.TransactionID),
		zap.String("reason", e.Reason))
	return w.send(ctx, "payment_flagged", w.opsEmail, tmplPaymentFlagged, e)
}

type otpMail struct {
	Code      string
	ExpiresAt time.Time
}

// OTPMailer sends one-time codes over SMTP inside the request. Codes never
// pass through the broker.
type OTPMailer struct {
	sender Sender
}

// NewOTPMailer creates an OTP mailer
func NewOTPMailer(sender Sender) *OTPMailer {
	return &OTPMailer{sender: sender}
}

// SendOTP mails code to email; phone is only used by callers for logging
func (m *OTPMailer) SendOTP(ctx context.Context, _, email, code string, expiresAt time.Time) error {
	if email == "" {
		return fmt.Errorf("otp mail: no address")
	}
	return deliver(ctx, m.sender, "otp", email, tmplOTP, otpMail{Code: code, ExpiresAt: expiresAt})
}
