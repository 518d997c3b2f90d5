package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/api"
	"evshop-payment/internal/auth"
	"evshop-payment/internal/broker"
	"evshop-payment/internal/gateway"
	"evshop-payment/internal/mailer"
	"evshop-payment/internal/media"
	"evshop-payment/internal/redisclient"
	"evshop-payment/internal/service"
	"evshop-payment/internal/store"
	"evshop-payment/internal/util"
	"evshop-payment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gw := cfg.Gateways
	httpClient := gateway.NewHTTPClient(time.Duration(cfg.Business.GatewayTimeoutSeconds) * time.Second)
	registry := gateway.NewRegistry(
		gateway.NewVNPay(gw.VNPay, httpClient, time.Now),
		gateway.NewMoMo(gw.MoMo, httpClient, time.Now),
		gateway.NewPayOS(gw.PayOS, httpClient, time.Now),
		gateway.NewPayPal(gw.PayPal, httpClient, time.Now),
		gateway.NewBankTransfer(gw.Bank, time.Now),
	)

	var proofs service.MediaStore
	if cfg.Storage.Bucket != "" {
		s3Store, err := media.NewS3Store(context.Background(), cfg.Storage)
		if err != nil {
			logger.Fatal("Failed to initialize proof storage", zap.Error(err))
		}
		proofs = s3Store
	} else {
		logger.Warn("S3_PROOF_BUCKET is not set, bank transfer proof uploads are disabled")
	}

	smtp, err := mailer.New(cfg.SMTP)
	if err != nil {
		logger.Fatal("Failed to initialize mailer", zap.Error(err))
	}

	tokens := auth.NewIssuer(cfg.Auth.JWTSecret)
	ledger := service.NewLedger(db, eventPublisher)
	reconciler := service.NewReconciler(db, ledger, eventPublisher)

	orderService := service.NewOrderService(db, ledger, eventPublisher, service.PricingConfig{
		DepositPercent: cfg.Business.DepositPercent,
		FeesVND:        cfg.Business.FeesVND,
	})
	paymentService := service.NewPaymentService(db, registry, reconciler, ledger, proofs, service.Links{
		FrontendURL:   cfg.Server.FrontendURL,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})
	trackingService := service.NewTrackingService(db, redisClient, tokens, worker.NewOTPMailer(smtp), service.OTPConfig{
		TTL:         time.Duration(cfg.Business.OTPTTLSeconds) * time.Second,
		Cooldown:    time.Duration(cfg.Business.OTPCooldownSeconds) * time.Second,
		MaxAttempts: cfg.Business.OTPMaxAttempts,
		TokenTTL:    time.Duration(cfg.Auth.GuestTokenTTLMins) * time.Minute,
	})
	expiryService := service.NewExpiryService(db, ledger, time.Duration(cfg.Business.OrderTimeoutSeconds)*time.Second)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, smtp, cfg.Business.OpsEmail)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	scheduler, err := worker.NewExpiryScheduler(expiryService, time.Duration(cfg.Business.ExpiryIntervalSeconds)*time.Second)
	if err != nil {
		logger.Fatal("Failed to create expiry scheduler", zap.Error(err))
	}
	if err := scheduler.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start expiry scheduler", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, trackingService, tokens, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	handler.AddReadinessCheck("postgres", db.Ping)
	handler.AddReadinessCheck("redis", redisClient.Ping)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := scheduler.Stop(); err != nil {
		logger.Warn("Expiry scheduler stop", zap.Error(err))
	}
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Notification worker stop", zap.Error(err))
	}

	logger.Info("Server exited")
}
