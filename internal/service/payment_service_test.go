package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/gateway"
	"evshop-payment/internal/models"
	"evshop-payment/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createVNPay(t *testing.T, env *testEnv, order *models.Order) string {
	t.Helper()
	intent, err := env.payments.CreatePayment(context.Background(), models.GatewayVNPay, &CreatePaymentRequest{OrderCode: order.OrderCode})
	require.NoError(t, err)
	return txnRefFrom(t, intent.RedirectURL)
}

func TestVNPayReturnThenIPNAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)
	assert.Regexp(t, `^DH000777_\d+$`, ref)

	cb := gateway.Callback{Query: vnpayCallback(ref, order.TotalAmount, "00")}

	res, err := env.payments.HandleCallback(context.Background(), models.GatewayVNPay, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	res, err = env.payments.HandleCallback(context.Background(), models.GatewayVNPay, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	got, err := env.repo.GetOrderByCode(context.Background(), "DH000777")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Statuses)
	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
	assert.Len(t, got.TrackingHistory, 2)

	assert.Len(t, env.notifier.statusChanges(), 1)
	assert.Equal(t, []string{models.EventTypePaymentSucceeded}, env.notifier.paymentEvents())

	txn, err := env.repo.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
}

func TestConcurrentCallbacksHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)
	cb := gateway.Callback{Query: vnpayCallback(ref, order.TotalAmount, "00")}

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.payments.HandleCallback(context.Background(), models.GatewayVNPay, cb)
			if err != nil {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeSuccess])
	assert.Equal(t, callers-1, outcomes[OutcomeDuplicate])
	assert.Len(t, env.notifier.statusChanges(), 1)

	got, err := env.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, got.PaidAmount)
}

func TestVNPayUserCancelKeepsOrderPending(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)

	res, err := env.payments.HandleCallback(context.Background(), models.GatewayVNPay,
		gateway.Callback{Query: vnpayCallback(ref, order.TotalAmount, gateway.VNPayCancelledCode)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "24", res.ResponseCode)

	got, err := env.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, got.Statuses)
	require.Len(t, got.TrackingHistory, 2)
	assert.Contains(t, got.TrackingHistory[1].Note, "code 24")
	assert.Empty(t, env.notifier.statusChanges())

	txn, err := env.repo.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)

	// the customer can start over
	_, err = env.payments.CreatePayment(context.Background(), models.GatewayVNPay, &CreatePaymentRequest{OrderCode: order.OrderCode})
	assert.NoError(t, err)
}

func TestInvalidSignatureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)

	q := vnpayCallback(ref, order.TotalAmount, "00")
	q.Set("vnp_SecureHash", "deadbeef")

	_, err := env.payments.HandleCallback(context.Background(), models.GatewayVNPay, gateway.Callback{Query: q})
	var sigErr *models.InvalidSignatureError
	require.True(t, errors.As(err, &sigErr))

	txn, err := env.repo.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, txn.Status)

	got, err := env.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, got.Statuses)
	assert.Len(t, got.TrackingHistory, 1)
	assert.Empty(t, env.notifier.paymentEvents())
}

func TestAmountMismatchFlagsOrder(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)

	res, err := env.payments.HandleCallback(context.Background(), models.GatewayVNPay,
		gateway.Callback{Query: vnpayCallback(ref, 10_000, "00")})
	var mismatch *models.AmountMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, order.TotalAmount, mismatch.Expected)
	assert.Equal(t, int64(10_000), mismatch.Actual)
	assert.Equal(t, OutcomeFlagged, res.Outcome)

	txn, err := env.repo.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)
	assert.Equal(t, "amount_mismatch", txn.Metadata.String("failure_code"))

	got, err := env.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentFailed, got.Statuses)
	assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)
	assert.True(t, got.NeedsReview)
	assert.Equal(t, int64(0), got.PaidAmount)
	assert.Equal(t, []string{models.EventTypePaymentFlagged}, env.notifier.paymentEvents())
}

// flakyOrders fails the next n order updates with a storage error
type flakyOrders struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (r *flakyOrders) UpdateOrder(ctx context.Context, o *models.Order) error {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return r.MemoryStore.UpdateOrder(ctx, o)
}

func TestRetriedCallbackBooksSettledPayment(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)
	ctx := context.Background()

	flaky := &flakyOrders{MemoryStore: env.repo, failures: 1}
	reconciler := NewReconciler(env.repo, NewLedger(flaky, env.notifier), env.notifier)
	ver := &gateway.Verification{
		Gateway:       models.GatewayVNPay,
		Valid:         true,
		Success:       true,
		CorrelationID: ref,
		Amount:        order.TotalAmount,
		ResponseCode:  "00",
	}

	_, err := reconciler.Reconcile(ctx, ver)
	require.Error(t, err)

	txn, err := env.repo.GetTransaction(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
	got, _ := env.repo.GetOrderByID(ctx, order.ID)
	assert.Zero(t, got.PaidAmount)

	// the gateway retries
	res, err := reconciler.Reconcile(ctx, ver)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	got, _ = env.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, order.TotalAmount, got.PaidAmount)
	assert.Equal(t, models.OrderStatusProcessing, got.Statuses)

	res, err = reconciler.Reconcile(ctx, ver)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	got, _ = env.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, order.TotalAmount, got.PaidAmount)
	assert.Equal(t, []string{models.EventTypePaymentSucceeded}, env.notifier.paymentEvents())
}

func TestFractionalVNPayAmountIsFlagged(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ref := createVNPay(t, env, order)

	q := vnpayCallback(ref, order.TotalAmount, "00")
	q.Set("vnp_Amount", strconv.FormatInt(order.TotalAmount*100+99, 10))
	q.Del("vnp_SecureHash")
	fields := map[string]string{}
	for k := range q {
		fields[k] = q.Get(k)
	}
	q.Set("vnp_SecureHash", gateway.HMACSHA512(vnpSecret, gateway.CanonicalQuery(fields, gateway.EncodingQuery)))

	res, err := env.payments.HandleCallback(context.Background(), models.GatewayVNPay, gateway.Callback{Query: q})
	var mismatch *models.AmountMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, OutcomeFlagged, res.Outcome)

	got, err := env.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PaidAmount)
	assert.True(t, got.NeedsReview)
}

func TestDepositThenRemainder(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodDeposit)
	ctx := context.Background()

	intent, err := env.payments.CreatePayment(ctx, models.GatewayVNPay, &CreatePaymentRequest{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, order.DepositAmount, intent.Amount)

	ref := txnRefFrom(t, intent.RedirectURL)
	_, err = env.payments.HandleCallback(ctx, models.GatewayVNPay, gateway.Callback{Query: vnpayCallback(ref, order.DepositAmount, "00")})
	require.NoError(t, err)

	got, _ := env.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusDepositPaid, got.Statuses)

	intent, err = env.payments.CreatePayment(ctx, models.GatewayVNPay, &CreatePaymentRequest{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, order.RemainingAmount, intent.Amount)

	ref = txnRefFrom(t, intent.RedirectURL)
	_, err = env.payments.HandleCallback(ctx, models.GatewayVNPay, gateway.Callback{Query: vnpayCallback(ref, order.RemainingAmount, "00")})
	require.NoError(t, err)

	got, _ = env.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusProcessing, got.Statuses)
	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)

	_, err = env.payments.CreatePayment(ctx, models.GatewayVNPay, &CreatePaymentRequest{OrderID: order.ID})
	assert.ErrorIs(t, err, models.ErrOrderNotPayable)
}

func TestCreatePaymentErrors(t *testing.T) {
	env := newTestEnv(t, gateway.NewMoMo(config.MoMoConfig{}, http.DefaultClient, nil))
	ctx := context.Background()

	_, err := env.payments.CreatePayment(ctx, models.GatewayVNPay, &CreatePaymentRequest{OrderCode: "DH999999"})
	var nf *models.OrderNotFoundError
	assert.True(t, errors.As(err, &nf))

	order := env.createOrder(t, models.PaymentMethodFull)
	_, err = env.payments.CreatePayment(ctx, models.GatewayMoMo, &CreatePaymentRequest{OrderCode: order.OrderCode})
	var cfgErr *models.GatewayConfigError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = env.payments.CreatePayment(ctx, models.GatewayPayPal, &CreatePaymentRequest{OrderCode: order.OrderCode})
	assert.Error(t, err)
}

func TestGatewayTimeoutLeavesTransactionPending(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	momo := gateway.NewMoMo(config.MoMoConfig{
		PartnerCode: "MOMOEV", AccessKey: "ak", SecretKey: "sk", Endpoint: srv.URL,
	}, gateway.NewHTTPClient(50*time.Millisecond), nil)
	env := newTestEnv(t, momo)
	order := env.createOrder(t, models.PaymentMethodFull)

	_, err := env.payments.CreatePayment(context.Background(), models.GatewayMoMo, &CreatePaymentRequest{OrderCode: order.OrderCode})
	require.ErrorIs(t, err, models.ErrGatewayTimeout)

	txns, err := env.repo.ListTransactionsByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TransactionStatusPending, txns[0].Status)
}

func TestGatewayErrorFailsTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resultCode":22,"message":"Invalid amount"}`))
	}))
	defer srv.Close()

	momo := gateway.NewMoMo(config.MoMoConfig{
		PartnerCode: "MOMOEV", AccessKey: "ak", SecretKey: "sk", Endpoint: srv.URL,
	}, srv.Client(), nil)
	env := newTestEnv(t, momo)
	order := env.createOrder(t, models.PaymentMethodFull)

	_, err := env.payments.CreatePayment(context.Background(), models.GatewayMoMo, &CreatePaymentRequest{OrderCode: order.OrderCode})
	require.Error(t, err)

	txns, err := env.repo.ListTransactionsByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TransactionStatusFailed, txns[0].Status)
}

func TestResolvePayOS(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	require.NoError(t, env.repo.CreateTransaction(ctx, &models.PaymentTransaction{
		OrderID:       order.ID,
		TransactionID: "777123456",
		Gateway:       models.GatewayPayOS,
		Amount:        order.TotalAmount,
		Status:        models.TransactionStatusPending,
		Metadata:      models.JSONMap{"payos_order_code": 777123456, "order_code": "DH000777"},
	}))

	res, err := env.payments.ResolvePayOS(ctx, "777123456")
	require.NoError(t, err)
	assert.Equal(t, "DH000777", res.OrderCode)
	assert.Equal(t, models.TransactionStatusPending, res.Status)

	_, err = env.payments.ResolvePayOS(ctx, "1")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestBankTransferProofAndAdminApproval(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	intent, err := env.payments.CreatePayment(ctx, models.GatewayBankTransfer, &CreatePaymentRequest{OrderCode: order.OrderCode})
	require.NoError(t, err)
	assert.Contains(t, intent.QRPayload, "img.vietqr.io")
	assert.Equal(t, "Vietcombank", intent.Extra["bank_name"])

	_, err = env.payments.UploadProof(ctx, &ProofUpload{
		OrderCode: "DH000777",
		Phone:     "0909999999",
		FileName:  "receipt.png",
		Size:      4,
		Body:      proof(),
	})
	var notFound *models.OrderNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Empty(t, env.media.files)

	txn, err := env.payments.UploadProof(ctx, &ProofUpload{
		OrderCode:   "dh000777",
		Phone:       "+84 901 234 567",
		FileName:    "Bien Lai CK.PNG",
		ContentType: "image/png",
		Size:        4,
		Body:        proof(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusProcessing, txn.Status)
	assert.Regexp(t, `^payment-proofs/dh000777/bien-lai-ck-\d+\.png$`, txn.Metadata.String("proof_key"))
	assert.Len(t, env.media.files, 1)

	approved := true
	res, err := env.payments.VerifyBankTransfer(ctx, &VerifyBankTransferRequest{OrderCode: "DH000777", Approved: &approved}, "ops")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	got, _ := env.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusProcessing, got.Statuses)

	// a second decision finds no open attempt
	_, err = env.payments.VerifyBankTransfer(ctx, &VerifyBankTransferRequest{OrderCode: "DH000777", Approved: &approved}, "ops")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestBankTransferRejection(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentMethodFull)
	ctx := context.Background()

	intent, err := env.payments.CreatePayment(ctx, models.GatewayBankTransfer, &CreatePaymentRequest{OrderCode: order.OrderCode})
	require.NoError(t, err)

	rejected := false
	res, err := env.payments.VerifyBankTransfer(ctx, &VerifyBankTransferRequest{
		TransactionID: intent.CorrelationID,
		Approved:      &rejected,
		Note:          "no matching credit on statement",
	}, "ops")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	got, _ := env.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusPendingPayment, got.Statuses)
}

func TestBankInfo(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.payments.BankInfo()
	require.NoError(t, err)
	assert.Equal(t, "0123456789", info["account_number"])
}
