package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"evshop-payment/internal/gateway"
	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Links are the base URLs used to build provider return and notify URLs
type Links struct {
	FrontendURL   string
	PublicBaseURL string
}

// PaymentService creates payment attempts and routes callbacks to reconciliation
type PaymentService struct {
	repo       Repository
	registry   *gateway.Registry
	reconciler *Reconciler
	ledger     *Ledger
	media      MediaStore
	links      Links
	logger     *zap.Logger
	now        func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo Repository,
	registry *gateway.Registry,
	reconciler *Reconciler,
	ledger *Ledger,
	media MediaStore,
	links Links,
) *PaymentService {
	return &PaymentService{
		repo:       repo,
		registry:   registry,
		reconciler: reconciler,
		ledger:     ledger,
		media:      media,
		links:      links,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// CreatePaymentRequest selects the order to pay
type CreatePaymentRequest struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
	ReturnURL string `json:"return_url" binding:"omitempty,url"`
	CancelURL string `json:"cancel_url" binding:"omitempty,url"`
	ClientIP  string `json:"-"`
}

// PaymentIntent is returned to the client after a payment attempt is created
type PaymentIntent struct {
	*gateway.Intent
	Gateway   models.Gateway `json:"gateway"`
	OrderCode string         `json:"order_code"`
	Amount    int64          `json:"amount"`
}

func (s *PaymentService) loadOrder(ctx context.Context, id int64, code string) (*models.Order, error) {
	switch {
	case code != "":
		return s.repo.GetOrderByCode(ctx, models.NormalizeOrderCode(code))
	case id > 0:
		return s.repo.GetOrderByID(ctx, id)
	default:
		return nil, fmt.Errorf("%w: order_id or order_code is required", models.ErrInvalidInput)
	}
}

func payable(o *models.Order) bool {
	switch o.Statuses {
	case models.OrderStatusPendingPayment, models.OrderStatusPaymentFailed, models.OrderStatusDepositPaid:
		return true
	}
	return false
}

func (s *PaymentService) urls(gw models.Gateway, req *CreatePaymentRequest) gateway.URLs {
	u := gateway.URLs{
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
		ClientIP:  req.ClientIP,
	}
	if u.ReturnURL == "" && s.links.FrontendURL != "" {
		u.ReturnURL = strings.TrimRight(s.links.FrontendURL, "/") + "/payment/" + string(gw) + "/return"
	}
	if u.CancelURL == "" {
		u.CancelURL = u.ReturnURL
	}
	if s.links.PublicBaseURL != "" {
		u.NotifyURL = strings.TrimRight(s.links.PublicBaseURL, "/") + "/payment/" + string(gw) + "/ipn"
	}
	return u
}

// CreatePayment persists a pending transaction for the amount due and asks the
// gateway for a redirect or QR payload. A provider timeout leaves the
// transaction pending; any other provider error fails it.
func (s *PaymentService) CreatePayment(ctx context.Context, gw models.Gateway, req *CreatePaymentRequest) (*PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment", attribute.String("gateway", string(gw)))
	defer span.End()

	adapter, err := s.registry.Get(gw)
	if err != nil {
		return nil, err
	}
	order, err := s.loadOrder(ctx, req.OrderID, req.OrderCode)
	if err != nil {
		return nil, err
	}
	if !payable(order) {
		return nil, models.ErrOrderNotPayable
	}
	amount := order.AmountDue()
	if amount <= 0 {
		return nil, models.ErrNothingDue
	}

	attempt, err := adapter.Prepare(order, amount)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	txn := &models.PaymentTransaction{
		OrderID:       order.ID,
		TransactionID: attempt.CorrelationID,
		Gateway:       gw,
		Amount:        amount,
		Status:        models.TransactionStatusPending,
		Metadata:      attempt.Metadata,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	util.PaymentAttemptsTotal.WithLabelValues(string(gw)).Inc()

	intent, err := adapter.Initiate(ctx, order, txn, s.urls(gw, req))
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, models.ErrGatewayTimeout) {
			s.logger.Warn("Gateway timed out, transaction left pending",
				zap.String("gateway", string(gw)),
				zap.String("transaction_id", txn.TransactionID))
			return nil, err
		}
		if _, _, settleErr := s.repo.SettleTransaction(ctx, txn.TransactionID, activeTxnStatuses,
			models.TransactionStatusFailed, models.JSONMap{"error": err.Error()}, nil); settleErr != nil {
			s.logger.Error("Failed to mark transaction failed", zap.Error(settleErr))
		}
		s.logger.Error("Gateway rejected payment creation",
			zap.String("gateway", string(gw)),
			zap.String("transaction_id", txn.TransactionID),
			zap.Error(err))
		return nil, err
	}

	if intent.GatewayRef != "" || len(intent.Metadata) > 0 {
		if err := s.repo.AttachGatewayRef(ctx, txn.TransactionID, intent.GatewayRef, intent.Metadata); err != nil {
			return nil, fmt.Errorf("failed to attach gateway reference: %w", err)
		}
	}

	s.logger.Info("Payment attempt created",
		zap.String("gateway", string(gw)),
		zap.String("order_code", order.OrderCode),
		zap.String("transaction_id", txn.TransactionID),
		zap.Int64("amount", amount))

	return &PaymentIntent{Intent: intent, Gateway: gw, OrderCode: order.OrderCode, Amount: amount}, nil
}

// HandleCallback verifies a return or webhook and reconciles it
func (s *PaymentService) HandleCallback(ctx context.Context, gw models.Gateway, cb gateway.Callback) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback", attribute.String("gateway", string(gw)))
	defer span.End()

	adapter, err := s.registry.Get(gw)
	if err != nil {
		return nil, err
	}
	ver, err := adapter.VerifyCallback(ctx, cb)
	if err != nil {
		var sigErr *models.InvalidSignatureError
		if errors.As(err, &sigErr) {
			util.PaymentCallbacksTotal.WithLabelValues(string(gw), "invalid_signature").Inc()
			s.logger.Warn("Callback failed verification", zap.String("gateway", string(gw)), zap.Error(err))
		}
		util.RecordError(span, err)
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, ver)
}

// CapturePayPal captures an approved PayPal order by its PayPal order id
func (s *PaymentService) CapturePayPal(ctx context.Context, paypalOrderID string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CapturePayPal")
	defer span.End()

	txn, err := s.repo.GetTransactionByGatewayRef(ctx, models.GatewayPayPal, paypalOrderID)
	if err != nil {
		return nil, err
	}
	if txn.Status.Terminal() {
		return &ReconcileResult{Outcome: OutcomeDuplicate, Transaction: txn}, nil
	}
	return s.HandleCallback(ctx, models.GatewayPayPal, gateway.Callback{Transaction: txn})
}

type querier interface {
	Query(ctx context.Context, txn *models.PaymentTransaction, clientIP string) (*gateway.Verification, error)
}

// QueryVNPay asks VNPay for the state of a transaction and reconciles the answer
func (s *PaymentService) QueryVNPay(ctx context.Context, transactionID, clientIP string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.QueryVNPay")
	defer span.End()

	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Gateway != models.GatewayVNPay {
		return nil, models.ErrTransactionNotFound
	}
	if txn.Status.Terminal() {
		return &ReconcileResult{Outcome: OutcomeDuplicate, Transaction: txn}, nil
	}

	adapter, err := s.registry.Get(models.GatewayVNPay)
	if err != nil {
		return nil, err
	}
	q, ok := adapter.(querier)
	if !ok {
		return nil, errors.New("vnpay adapter does not support querydr")
	}
	ver, err := q.Query(ctx, txn, clientIP)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, ver)
}

// PayOSResolution maps a PayOS numeric orderCode back to our order
type PayOSResolution struct {
	PayOSOrderCode string                   `json:"payos_order_code"`
	OrderCode      string                   `json:"order_code"`
	TransactionID  string                   `json:"transaction_id"`
	Status         models.TransactionStatus `json:"status"`
}

// ResolvePayOS looks up the order behind a PayOS numeric code
func (s *PaymentService) ResolvePayOS(ctx context.Context, numericCode string) (*PayOSResolution, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ResolvePayOS")
	defer span.End()

	txn, err := s.repo.GetTransaction(ctx, numericCode)
	if err != nil {
		return nil, err
	}
	if txn.Gateway != models.GatewayPayOS {
		return nil, models.ErrTransactionNotFound
	}

	code := txn.Metadata.String("order_code")
	if code == "" {
		order, err := s.repo.GetOrderByID(ctx, txn.OrderID)
		if err != nil {
			return nil, err
		}
		code = order.OrderCode
	}
	return &PayOSResolution{
		PayOSOrderCode: txn.TransactionID,
		OrderCode:      code,
		TransactionID:  txn.TransactionID,
		Status:         txn.Status,
	}, nil
}

// ProofUpload is a bank transfer receipt sent by the customer
type ProofUpload struct {
	OrderCode   string
	Phone       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// latestBankTransfer returns the newest open bank transfer attempt of an order
func (s *PaymentService) latestBankTransfer(ctx context.Context, orderID int64) (*models.PaymentTransaction, error) {
	txns, err := s.repo.ListTransactionsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range txns {
		t := txns[i]
		if t.Gateway == models.GatewayBankTransfer && !t.Status.Terminal() {
			return &t, nil
		}
	}
	return nil, models.ErrTransactionNotFound
}

// UploadProof stores the receipt and moves the attempt to processing until an admin decides
func (s *PaymentService) UploadProof(ctx context.Context, up *ProofUpload) (*models.PaymentTransaction, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.UploadProof")
	defer span.End()

	if s.media == nil {
		return nil, errors.New("media store is not configured")
	}
	order, err := s.repo.GetOrderByCode(ctx, models.NormalizeOrderCode(up.OrderCode))
	if err != nil {
		return nil, err
	}
	// a wrong phone looks like an unknown order so codes cannot be guessed
	phone := models.NormalizePhone(up.Phone)
	if phone == "" || phone != models.NormalizePhone(order.CustomerInfo.Phone) {
		return nil, &models.OrderNotFoundError{Ref: up.OrderCode}
	}
	txn, err := s.latestBankTransfer(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(path.Ext(up.FileName))
	base := slug.Make(strings.TrimSuffix(path.Base(up.FileName), path.Ext(up.FileName)))
	if base == "" {
		base = "proof"
	}
	now := s.now()
	key := fmt.Sprintf("payment-proofs/%s/%s-%d%s", slug.Make(order.OrderCode), base, now.Unix(), ext)

	url, err := s.media.Upload(ctx, key, up.Body, up.Size, up.ContentType)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to store payment proof: %w", err)
	}

	settled, applied, err := s.repo.SettleTransaction(ctx, txn.TransactionID, activeTxnStatuses,
		models.TransactionStatusProcessing, txn.GatewayResponse, models.JSONMap{
			"proof_url":         url,
			"proof_key":         key,
			"proof_uploaded_at": now.UTC().Format(time.RFC3339),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to record payment proof: %w", err)
	}
	if !applied {
		return settled, nil
	}

	if _, err := s.ledger.Note(ctx, order.ID, "Bank transfer proof uploaded, awaiting verification"); err != nil {
		s.logger.Warn("Failed to note proof upload", zap.String("order_code", order.OrderCode), zap.Error(err))
	}
	s.logger.Info("Bank transfer proof uploaded",
		zap.String("order_code", order.OrderCode),
		zap.String("transaction_id", txn.TransactionID),
		zap.String("key", key))
	return settled, nil
}

// VerifyBankTransferRequest is an admin decision on a bank transfer
type VerifyBankTransferRequest struct {
	OrderCode     string `json:"order_code"`
	TransactionID string `json:"transaction_id"`
	Approved      *bool  `json:"approved" binding:"required"`
	Note          string `json:"note" binding:"max=500"`
}

type decider interface {
	Decide(txn *models.PaymentTransaction, approved bool, note string) *gateway.Verification
}

// VerifyBankTransfer applies an admin decision through normal reconciliation
func (s *PaymentService) VerifyBankTransfer(ctx context.Context, req *VerifyBankTransferRequest, admin string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyBankTransfer")
	defer span.End()

	var (
		txn *models.PaymentTransaction
		err error
	)
	if req.TransactionID != "" {
		txn, err = s.repo.GetTransaction(ctx, req.TransactionID)
	} else {
		var order *models.Order
		order, err = s.loadOrder(ctx, 0, req.OrderCode)
		if err == nil {
			txn, err = s.latestBankTransfer(ctx, order.ID)
		}
	}
	if err != nil {
		return nil, err
	}
	if txn.Gateway != models.GatewayBankTransfer {
		return nil, models.ErrTransactionNotFound
	}

	adapter, err := s.registry.Get(models.GatewayBankTransfer)
	if err != nil {
		return nil, err
	}
	d, ok := adapter.(decider)
	if !ok {
		return nil, errors.New("bank transfer adapter cannot take decisions")
	}

	note := req.Note
	if note == "" {
		note = "verified by " + admin
	}
	s.logger.Info("Bank transfer decision",
		zap.String("transaction_id", txn.TransactionID),
		zap.Bool("approved", *req.Approved),
		zap.String("admin", admin))
	return s.reconciler.Reconcile(ctx, d.Decide(txn, *req.Approved, note))
}

type bankInfoProvider interface {
	BankInfo() map[string]interface{}
}

// BankInfo returns the shop's bank account details
func (s *PaymentService) BankInfo() (map[string]interface{}, error) {
	adapter, err := s.registry.Get(models.GatewayBankTransfer)
	if err != nil {
		return nil, err
	}
	p, ok := adapter.(bankInfoProvider)
	if !ok {
		return nil, errors.New("bank transfer adapter has no bank info")
	}
	return p.BankInfo(), nil
}
