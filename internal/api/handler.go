package api

import (
	"context"
	"net/http"
	"time"

	"evshop-payment/internal/auth"
	"evshop-payment/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TokenParser validates bearer tokens
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Options tune the HTTP surface
type Options struct {
	AllowedOrigins []string
	MaxProofBytes  int64
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	tracking *service.TrackingService
	tokens   TokenParser
	opts     Options
	checks   []readinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	tracking *service.TrackingService,
	tokens TokenParser,
	opts Options,
) *Handler {
	if opts.MaxProofBytes <= 0 {
		opts.MaxProofBytes = 5 << 20
	}
	return &Handler{
		orders:   orders,
		payments: payments,
		tracking: tracking,
		tokens:   tokens,
		opts:     opts,
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, readinessCheck{name: name, check: check})
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	registerValidators()

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())
	if len(h.opts.AllowedOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = h.opts.AllowedOrigins
		cc.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
		cc.AllowHeaders = append(cc.AllowHeaders, "Authorization")
		router.Use(cors.New(cc))
	}

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := requireRole(h.tokens, auth.RoleAdmin)
	guest := requireRole(h.tokens, auth.RoleGuest, auth.RoleAdmin)

	router.POST("/orders", h.createOrder)
	router.GET("/orders/:code", admin, h.getOrder)
	router.PATCH("/admin/orders/:code/status", admin, h.updateOrderStatus)

	pay := router.Group("/payment")
	{
		pay.POST("/vnpay/create", h.createVNPay)
		pay.GET("/vnpay/return", h.vnpayReturn)
		pay.GET("/vnpay/ipn", h.vnpayIPN)
		pay.POST("/vnpay/ipn", h.vnpayIPN)
		pay.GET("/vnpay/query", admin, h.vnpayQuery)

		pay.POST("/momo/create", h.createMoMo)
		pay.GET("/momo/return", h.momoReturn)
		pay.POST("/momo/ipn", h.momoIPN)

		pay.POST("/payos/create", h.createPayOS)
		pay.POST("/payos/webhook", h.payosWebhook)
		pay.GET("/payos/resolve/:orderCode", h.payosResolve)

		pay.POST("/paypal/create", h.createPayPal)
		pay.POST("/paypal/capture", h.paypalCapture)

		pay.POST("/bank-transfer/create", h.createBankTransfer)
		pay.POST("/bank-transfer/upload-proof", optionalRole(h.tokens, auth.RoleGuest), h.uploadProof)
		pay.POST("/bank-transfer/verify", admin, h.verifyBankTransfer)
		pay.GET("/bank-transfer/bank-info", h.bankInfo)
	}

	router.POST("/order-tracking/lookup", h.trackOrder)
	router.GET("/order-tracking/orders", guest, h.listGuestOrders)
	router.POST("/auth/otp/send", h.sendOTP)
	router.POST("/auth/otp/verify", h.verifyOTP)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, rc := range h.checks {
		if err := rc.check(ctx); err != nil {
			failed[rc.name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
