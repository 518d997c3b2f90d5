package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/models"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

// PayPal charges in USD. The VND amount is converted at a configured rate and the
// USD figure is stored with the attempt so capture can be compared exactly.
type PayPal struct {
	cfg    config.PayPalConfig
	http   *http.Client
	now    Clock
	newAPI func() (*paypal.Client, error)
}

// NewPayPal creates the PayPal adapter
func NewPayPal(cfg config.PayPalConfig, httpClient *http.Client, now Clock) *PayPal {
	if now == nil {
		now = time.Now
	}
	p := &PayPal{cfg: cfg, http: httpClient, now: now}
	p.newAPI = p.dial
	return p
}

func (p *PayPal) dial() (*paypal.Client, error) {
	c, err := paypal.NewClient(p.cfg.ClientID, p.cfg.ClientSecret, p.cfg.APIBase)
	if err != nil {
		return nil, err
	}
	if p.http != nil {
		c.Client = p.http
	}
	return c, nil
}

func (p *PayPal) rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(p.cfg.VNDPerUSD)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, &models.GatewayConfigError{Gateway: models.GatewayPayPal, Missing: []string{"PAYPAL_VND_PER_USD"}}
	}
	return rate, nil
}

// ToUSD converts VND to USD rounded to cents
func (p *PayPal) ToUSD(vnd int64) (decimal.Decimal, error) {
	rate, err := p.rate()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(vnd).DivRound(rate, 2), nil
}

func (p *PayPal) Gateway() models.Gateway { return models.GatewayPayPal }

func (p *PayPal) Prepare(order *models.Order, amount int64) (*Attempt, error) {
	if err := requireConfig(models.GatewayPayPal, map[string]string{
		"PAYPAL_CLIENT_ID":     p.cfg.ClientID,
		"PAYPAL_CLIENT_SECRET": p.cfg.ClientSecret,
	}); err != nil {
		return nil, err
	}
	usd, err := p.ToUSD(amount)
	if err != nil {
		return nil, err
	}
	if usd.LessThan(decimal.NewFromFloat(0.01)) {
		return nil, fmt.Errorf("paypal: amount %d VND is below the minimum charge", amount)
	}
	return &Attempt{
		CorrelationID: fmt.Sprintf("PP_%s_%d", order.OrderCode, p.now().UnixMilli()),
		Metadata: models.JSONMap{
			"order_code":  order.OrderCode,
			"amount_usd":  usd.StringFixed(2),
			"vnd_per_usd": p.cfg.VNDPerUSD,
		},
	}, nil
}

func (p *PayPal) Initiate(ctx context.Context, order *models.Order, txn *models.PaymentTransaction, urls URLs) (*Intent, error) {
	api, err := p.newAPI()
	if err != nil {
		return nil, err
	}
	if _, err := api.GetAccessToken(ctx); err != nil {
		return nil, p.wrap("token", err)
	}

	start := time.Now()
	created, err := api.CreateOrder(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{{
		ReferenceID: txn.TransactionID,
		Description: "Order " + order.OrderCode,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: "USD",
			Value:    txn.Metadata.String("amount_usd"),
		},
	}}, nil, &paypal.ApplicationContext{
		BrandName: "EV Shop",
		ReturnURL: urls.ReturnURL,
		CancelURL: urls.CancelURL,
	})
	observeGateway(models.GatewayPayPal, "create", start)
	if err != nil {
		return nil, p.wrap("create", err)
	}

	intent := &Intent{
		CorrelationID: txn.TransactionID,
		GatewayRef:    created.ID,
		Metadata:      models.JSONMap{"paypal_order_id": created.ID},
	}
	for _, l := range created.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			intent.RedirectURL = l.Href
		}
	}
	return intent, nil
}

// VerifyCallback captures the approved PayPal order. The capture response is
// authenticated by PayPal's API, so there is no signature to check; cb.Transaction must be set.
func (p *PayPal) VerifyCallback(ctx context.Context, cb Callback) (*Verification, error) {
	txn := cb.Transaction
	if txn == nil || txn.GatewayRef == "" {
		return nil, errors.New("paypal capture needs a resolved transaction")
	}

	api, err := p.newAPI()
	if err != nil {
		return nil, err
	}
	if _, err := api.GetAccessToken(ctx); err != nil {
		return nil, p.wrap("token", err)
	}

	start := time.Now()
	resp, err := api.CaptureOrder(ctx, txn.GatewayRef, paypal.CaptureOrderRequest{})
	observeGateway(models.GatewayPayPal, "capture", start)

	result := &Verification{
		Gateway:       models.GatewayPayPal,
		Valid:         true,
		CorrelationID: txn.TransactionID,
		GatewayRef:    txn.GatewayRef,
		Raw:           models.JSONMap{"paypal_order_id": txn.GatewayRef},
	}
	if err != nil {
		var apiErr *paypal.ErrorResponse
		if !errors.As(err, &apiErr) || apiErr.Response == nil || apiErr.Response.StatusCode != http.StatusUnprocessableEntity {
			return nil, p.wrap("capture", err)
		}
		issue, detail := captureIssue(apiErr)
		switch {
		case issue == "ORDER_ALREADY_CAPTURED":
			// a replayed return; the earlier capture holds the real outcome
			return p.lookup(ctx, api, txn, result)
		case declineIssues[issue]:
			result.ResponseCode = issue
			result.Reason = detail
			result.Raw["error"] = issue
			return result, nil
		default:
			return nil, p.wrap("capture", fmt.Errorf("%s: %w", issue, err))
		}
	}

	result.ResponseCode = resp.Status
	result.Raw["status"] = resp.Status
	result.Success = resp.Status == "COMPLETED"

	payments := make([]*paypal.CapturedPayments, 0, len(resp.PurchaseUnits))
	for _, pu := range resp.PurchaseUnits {
		payments = append(payments, pu.Payments)
	}
	return p.settle(txn, result, payments)
}

// declineIssues are the 422 issues that mean the payer's instrument was refused.
// Any other 422 leaves the attempt open.
var declineIssues = map[string]bool{
	"INSTRUMENT_DECLINED":                     true,
	"PAYER_CANNOT_PAY":                        true,
	"TRANSACTION_REFUSED":                     true,
	"CARD_EXPIRED":                            true,
	"PAYER_ACCOUNT_RESTRICTED":                true,
	"PAYER_ACCOUNT_LOCKED_OR_CLOSED":          true,
	"COMPLIANCE_VIOLATION":                    true,
	"MAX_NUMBER_OF_PAYMENT_ATTEMPTS_EXCEEDED": true,
}

func captureIssue(apiErr *paypal.ErrorResponse) (string, string) {
	for _, d := range apiErr.Details {
		if d.Issue != "" {
			msg := d.Description
			if msg == "" {
				msg = apiErr.Message
			}
			return d.Issue, msg
		}
	}
	return apiErr.Name, apiErr.Message
}

// lookup reads back an order that was captured by an earlier request
func (p *PayPal) lookup(ctx context.Context, api *paypal.Client, txn *models.PaymentTransaction, result *Verification) (*Verification, error) {
	start := time.Now()
	order, err := api.GetOrder(ctx, txn.GatewayRef)
	observeGateway(models.GatewayPayPal, "get", start)
	if err != nil {
		return nil, p.wrap("get", err)
	}

	result.ResponseCode = order.Status
	result.Raw["status"] = order.Status
	result.Raw["already_captured"] = true
	result.Success = order.Status == "COMPLETED"

	payments := make([]*paypal.CapturedPayments, 0, len(order.PurchaseUnits))
	for _, pu := range order.PurchaseUnits {
		payments = append(payments, pu.Payments)
	}
	return p.settle(txn, result, payments)
}

func (p *PayPal) settle(txn *models.PaymentTransaction, result *Verification, payments []*paypal.CapturedPayments) (*Verification, error) {
	captured, captureID := capturedUSD(payments)
	result.Raw["captured_usd"] = captured.StringFixed(2)
	result.Raw["capture_id"] = captureID

	expected, err := decimal.NewFromString(txn.Metadata.String("amount_usd"))
	if err == nil && captured.Equal(expected) {
		result.Amount = txn.Amount
		return result, nil
	}
	rate, err := p.rate()
	if err != nil {
		return nil, err
	}
	result.Amount = captured.Mul(rate).Round(0).IntPart()
	return result, nil
}

func capturedUSD(payments []*paypal.CapturedPayments) (decimal.Decimal, string) {
	total := decimal.Zero
	var id string
	for _, pay := range payments {
		if pay == nil {
			continue
		}
		for _, c := range pay.Captures {
			if c.Amount == nil {
				continue
			}
			if v, err := decimal.NewFromString(c.Amount.Value); err == nil {
				total = total.Add(v)
			}
			id = c.ID
		}
	}
	return total, id
}

func (p *PayPal) wrap(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("paypal %s: %w", op, models.ErrGatewayTimeout)
	}
	return fmt.Errorf("paypal %s failed: %w", op, err)
}
