package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created at checkout",
	}, []string{"payment_method"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Applied order status transitions",
	}, []string{"from", "to"})

	IllegalTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_illegal_transitions_total",
		Help: "Rejected order status transitions",
	}, []string{"from", "to"})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Orders cancelled because payment never arrived",
	})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts created",
	}, []string{"gateway"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks by reconciliation outcome",
	}, []string{"gateway", "outcome"})

	PaymentAmountMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_mismatch_total",
		Help: "Callbacks whose amount differed from the transaction amount",
	}, []string{"gateway"})

	OrderOverpaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_overpayments_total",
		Help: "Payments that took an order past its total",
	})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of outbound payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})

	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notifications that could not be published or delivered",
	}, []string{"kind"})

	OTPSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_sent_total",
		Help: "OTP codes issued",
	})

	OTPVerifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verify_total",
		Help: "OTP verification attempts by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
