package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/redisclient"
	"evshop-payment/internal/util"

	"go.uber.org/zap"
)

// OTPConfig controls one-time code issuing
type OTPConfig struct {
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	TokenTTL    time.Duration
}

// TrackingService serves guests who have no account: order lookup by code and
// phone, and phone OTP that unlocks the list of their orders
type TrackingService struct {
	repo   OrderRepository
	otp    OTPStore
	tokens TokenIssuer
	sender OTPSender
	cfg    OTPConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewTrackingService creates a new tracking service
func NewTrackingService(repo OrderRepository, otp OTPStore, tokens TokenIssuer, sender OTPSender, cfg OTPConfig) *TrackingService {
	return &TrackingService{
		repo:   repo,
		otp:    otp,
		tokens: tokens,
		sender: sender,
		cfg:    cfg,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// TrackOrder returns the order when code and phone both match, nil otherwise.
// A missing order and a wrong phone give the same answer.
func (s *TrackingService) TrackOrder(ctx context.Context, orderCode, phone string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.TrackOrder")
	defer span.End()

	want := models.NormalizePhone(phone)
	if want == "" {
		return nil, nil
	}

	order, err := s.repo.GetOrderByCode(ctx, models.NormalizeOrderCode(orderCode))
	if err != nil {
		var nf *models.OrderNotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	if models.NormalizePhone(order.CustomerInfo.Phone) != want {
		return nil, nil
	}
	return order, nil
}

// ListOrders returns every order placed with phone, newest first
func (s *TrackingService) ListOrders(ctx context.Context, phone string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.ListOrders")
	defer span.End()

	return s.repo.ListOrdersByPhone(ctx, models.NormalizePhone(phone))
}

// OTPSent tells the client when the code expires and when it may ask again
type OTPSent struct {
	ExpiresIn int `json:"expires_in"`
	ResendIn  int `json:"resend_in"`
}

func hashOTP(phone, code string) string {
	sum := sha256.Sum256([]byte(phone + ":" + code))
	return hex.EncodeToString(sum[:])
}

func randomOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// SendOTP issues a code for phone. It is delivered to the e-mail of the most
// recent order for that phone; when there is none the call still succeeds.
func (s *TrackingService) SendOTP(ctx context.Context, phone string) (*OTPSent, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.SendOTP")
	defer span.End()

	phone = models.NormalizePhone(phone)
	if !models.ValidPhone(phone) {
		return nil, fmt.Errorf("%w: phone number", models.ErrInvalidInput)
	}

	cooldown := "otp-cooldown:" + phone
	ok, err := s.otp.AcquireLock(ctx, cooldown, s.cfg.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("failed to check otp cooldown: %w", err)
	}
	if !ok {
		return nil, models.ErrOTPCooldown
	}

	code, err := randomOTP()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}
	if err := s.otp.StoreOTP(ctx, phone, hashOTP(phone, code), s.cfg.TTL); err != nil {
		return nil, err
	}

	sent := &OTPSent{ExpiresIn: int(s.cfg.TTL.Seconds()), ResendIn: int(s.cfg.Cooldown.Seconds())}

	orders, err := s.repo.ListOrdersByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 || orders[0].CustomerInfo.Email == "" {
		s.logger.Info("OTP requested for phone without orders", zap.String("phone", maskPhone(phone)))
		return sent, nil
	}

	if err := s.sender.SendOTP(ctx, phone, orders[0].CustomerInfo.Email, code, s.now().Add(s.cfg.TTL)); err != nil {
		util.NotificationFailuresTotal.WithLabelValues("otp").Inc()
		s.logger.Warn("Failed to deliver otp", zap.String("phone", maskPhone(phone)), zap.Error(err))
		// the customer never got a code, so let them ask again right away
		if rerr := s.otp.ReleaseLock(ctx, cooldown); rerr != nil {
			s.logger.Warn("Failed to release otp cooldown", zap.String("phone", maskPhone(phone)), zap.Error(rerr))
		}
		return nil, fmt.Errorf("failed to deliver otp: %w", err)
	}
	util.OTPSentTotal.Inc()
	return sent, nil
}

// VerifyOTP consumes the code and returns a guest token for phone
func (s *TrackingService) VerifyOTP(ctx context.Context, phone, code string) (string, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.VerifyOTP")
	defer span.End()

	phone = models.NormalizePhone(phone)
	res, err := s.otp.VerifyOTP(ctx, phone, hashOTP(phone, code), s.cfg.MaxAttempts)
	if err != nil {
		return "", err
	}

	switch res {
	case redisclient.OTPVerified:
		util.OTPVerifyTotal.WithLabelValues("verified").Inc()
		return s.tokens.IssueGuest(phone, s.cfg.TokenTTL)
	case redisclient.OTPBurned:
		util.OTPVerifyTotal.WithLabelValues("burned").Inc()
		return "", models.ErrOTPAttemptsExceeded
	case redisclient.OTPWrong:
		util.OTPVerifyTotal.WithLabelValues("wrong").Inc()
		return "", models.ErrOTPInvalid
	default:
		util.OTPVerifyTotal.WithLabelValues("missing").Inc()
		return "", models.ErrOTPInvalid
	}
}

func maskPhone(p string) string {
	if len(p) < 4 {
		return "****"
	}
	return "******" + p[len(p)-4:]
}
