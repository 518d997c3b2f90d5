package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/auth"
	"evshop-payment/internal/gateway"
	"evshop-payment/internal/models"
	"evshop-payment/internal/redisclient"
	"evshop-payment/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

const vnpSecret = "vnpsecret"

type statusChange struct {
	OrderCode string
	From      models.OrderStatus
	To        models.OrderStatus
}

type otpMessage struct {
	Phone, Email, Code string
}

type recordingNotifier struct {
	mu       sync.Mutex
	created  []string
	changes  []statusChange
	payments []string
	otps     []otpMessage
	err      error
	otpErr   error
}

func (n *recordingNotifier) OrderCreated(_ context.Context, o *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o.OrderCode)
	return n.err
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, o *models.Order, from models.OrderStatus, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, statusChange{OrderCode: o.OrderCode, From: from, To: o.Statuses})
	return n.err
}

func (n *recordingNotifier) PaymentSettled(_ context.Context, eventType string, _ *models.Order, _ *models.PaymentTransaction, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, eventType)
	return n.err
}

func (n *recordingNotifier) SendOTP(_ context.Context, phone, email, code string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.otps = append(n.otps, otpMessage{Phone: phone, Email: email, Code: code})
	return n.otpErr
}

func (n *recordingNotifier) statusChanges() []statusChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]statusChange(nil), n.changes...)
}

func (n *recordingNotifier) paymentEvents() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.payments...)
}

type memoryMedia struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryMedia) Upload(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[key] = data
	return "https://media.test/" + key, nil
}

// tickingClock returns a strictly increasing time so correlation ids never collide
func tickingClock() gateway.Clock {
	var n int64
	base := time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Millisecond)
	}
}

type testEnv struct {
	repo       *store.MemoryStore
	notifier   *recordingNotifier
	ledger     *Ledger
	reconciler *Reconciler
	orders     *OrderService
	payments   *PaymentService
	tracking   *TrackingService
	expiry     *ExpiryService
	media      *memoryMedia
	redis      *miniredis.Miniredis
	tokens     *auth.Issuer
	vehicle    models.Vehicle
}

func newTestEnv(t *testing.T, extra ...gateway.Adapter) *testEnv {
	t.Helper()

	repo := store.NewMemoryStore()
	vehicle := repo.PutVehicle(models.Vehicle{SKU: "VF8-ECO", Name: "VF 8 Eco", Price: 1_100_000, SalePrice: 1_000_000, Active: true})
	notifier := &recordingNotifier{}
	ledger := NewLedger(repo, notifier)
	reconciler := NewReconciler(repo, ledger, notifier)

	clock := tickingClock()
	adapters := []gateway.Adapter{
		gateway.NewVNPay(config.VNPayConfig{
			TmnCode:    "EVSHOP01",
			HashSecret: vnpSecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			Encoding:   "query",
		}, http.DefaultClient, clock),
		gateway.NewBankTransfer(config.BankConfig{
			BankID:        "970436",
			BankName:      "Vietcombank",
			AccountNumber: "0123456789",
			AccountName:   "EV SHOP",
		}, clock),
		gateway.NewPayOS(config.PayOSConfig{}, http.DefaultClient, clock),
	}
	adapters = append(adapters, extra...)
	registry := gateway.NewRegistry(adapters...)

	media := &memoryMedia{}
	mr := miniredis.RunT(t)
	otpStore := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	tokens := auth.NewIssuer("test-secret")

	orders := NewOrderService(repo, ledger, notifier, PricingConfig{DepositPercent: 10, FeesVND: 0})
	orders.newCode = func() (string, error) { return "DH000777", nil }

	return &testEnv{
		repo:       repo,
		notifier:   notifier,
		ledger:     ledger,
		reconciler: reconciler,
		orders:     orders,
		payments:   NewPaymentService(repo, registry, reconciler, ledger, media, Links{FrontendURL: "https://shop.test", PublicBaseURL: "https://api.shop.test"}),
		tracking: NewTrackingService(repo, otpStore, tokens, notifier, OTPConfig{
			TTL:         5 * time.Minute,
			Cooldown:    time.Minute,
			MaxAttempts: 5,
			TokenTTL:    30 * time.Minute,
		}),
		expiry:  NewExpiryService(repo, ledger, 24*time.Hour),
		media:   media,
		redis:   mr,
		tokens:  tokens,
		vehicle: vehicle,
	}
}

func (e *testEnv) createOrder(t *testing.T, method models.PaymentMethod) *models.Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		VehicleID:     e.vehicle.ID,
		PaymentMethod: method,
		Customer: CustomerRequest{
			Name:  "Nguyen Van A",
			Phone: "0901234567",
			Email: "a@example.com",
		},
		SelectedColor: "#ff0000",
	})
	require.NoError(t, err)
	return order
}

// vnpayCallback builds a correctly signed VNPay return/IPN query
func vnpayCallback(txnRef string, amount int64, code string) url.Values {
	q := url.Values{}
	q.Set("vnp_TmnCode", "EVSHOP01")
	q.Set("vnp_TxnRef", txnRef)
	q.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	q.Set("vnp_ResponseCode", code)
	q.Set("vnp_TransactionStatus", code)
	q.Set("vnp_TransactionNo", "14012345")
	q.Set("vnp_OrderInfo", "Thanh toan don hang DH000777")
	q.Set("vnp_BankCode", "NCB")

	fields := map[string]string{}
	for k := range q {
		fields[k] = q.Get(k)
	}
	q.Set("vnp_SecureHash", gateway.HMACSHA512(vnpSecret, gateway.CanonicalQuery(fields, gateway.EncodingQuery)))
	return q
}

func txnRefFrom(t *testing.T, redirect string) string {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	ref := u.Query().Get("vnp_TxnRef")
	require.NotEmpty(t, ref)
	return ref
}

func proof() io.Reader {
	return bytes.NewReader([]byte{0x89, 'P', 'N', 'G'})
}
