package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/models"

	"github.com/tidwall/gjson"
)

// payosClient is the boundary to the PayOS merchant API
type payosClient struct {
	clientID    string
	apiKey      string
	checksumKey string
	endpoint    string
	http        *http.Client
}

type payosCheckout struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl"`
	CancelURL   string `json:"cancelUrl"`
	Signature   string `json:"signature"`
}

type payosLink struct {
	CheckoutURL   string
	QRCode        string
	PaymentLinkID string
}

type payosWebhook struct {
	Success     bool
	Code        string
	OrderCode   int64
	Amount      int64
	Reference   string
	Description string
	Raw         models.JSONMap
}

func (c *payosClient) headers() map[string]string {
	return map[string]string{"x-client-id": c.clientID, "x-api-key": c.apiKey}
}

func (c *payosClient) createPaymentLink(ctx context.Context, req payosCheckout) (*payosLink, error) {
	req.Signature = HMACSHA256(c.checksumKey, fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		req.Amount, req.CancelURL, req.Description, req.OrderCode, req.ReturnURL))

	body, err := postJSON(ctx, c.http, models.GatewayPayOS, "create", strings.TrimRight(c.endpoint, "/")+"/v2/payment-requests", c.headers(), req)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if code := res.Get("code").String(); code != "00" {
		return nil, fmt.Errorf("payos create failed: code=%s desc=%s", code, res.Get("desc").String())
	}
	data := res.Get("data")
	if err := c.checkDataSignature(data, res.Get("signature").String()); err != nil {
		return nil, fmt.Errorf("payos create response: %w", err)
	}

	return &payosLink{
		CheckoutURL:   data.Get("checkoutUrl").String(),
		QRCode:        data.Get("qrCode").String(),
		PaymentLinkID: data.Get("paymentLinkId").String(),
	}, nil
}

func (c *payosClient) verifyWebhook(body []byte) (*payosWebhook, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed webhook body")
	}
	res := gjson.ParseBytes(body)
	data := res.Get("data")
	if !data.IsObject() {
		return nil, fmt.Errorf("webhook has no data object")
	}
	if err := c.checkDataSignature(data, res.Get("signature").String()); err != nil {
		return nil, err
	}

	raw := models.JSONMap{}
	data.ForEach(func(k, v gjson.Result) bool {
		raw[k.String()] = v.Value()
		return true
	})

	return &payosWebhook{
		Success:     res.Get("success").Bool(),
		Code:        data.Get("code").String(),
		OrderCode:   data.Get("orderCode").Int(),
		Amount:      data.Get("amount").Int(),
		Reference:   data.Get("reference").String(),
		Description: data.Get("description").String(),
		Raw:         raw,
	}, nil
}

// checkDataSignature signs the key-sorted fields of data. Nulls sign as empty strings.
func (c *payosClient) checkDataSignature(data gjson.Result, received string) error {
	if received == "" {
		return fmt.Errorf("missing signature")
	}
	var keys []string
	values := map[string]string{}
	data.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		keys = append(keys, key)
		switch v.Type {
		case gjson.Null:
			values[key] = ""
		case gjson.JSON:
			values[key] = v.Raw
		default:
			values[key] = v.String()
		}
		return true
	})
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + values[k]
	}
	if !SignatureEqual(HMACSHA256(c.checksumKey, strings.Join(parts, "&")), received) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// PayOS uses a numeric orderCode, so the attempt id is derived from the order code digits
type PayOS struct {
	cfg    config.PayOSConfig
	client *payosClient
	now    Clock
}

// NewPayOS creates the PayOS adapter
func NewPayOS(cfg config.PayOSConfig, httpClient *http.Client, now Clock) *PayOS {
	if now == nil {
		now = time.Now
	}
	return &PayOS{
		cfg: cfg,
		client: &payosClient{
			clientID:    cfg.ClientID,
			apiKey:      cfg.APIKey,
			checksumKey: cfg.ChecksumKey,
			endpoint:    cfg.Endpoint,
			http:        httpClient,
		},
		now: now,
	}
}

// PayOSOrderCode builds the numeric code: the order code's digits followed by
// the last six digits of the unix millisecond clock. DH000777 becomes 777xxxxxx.
func PayOSOrderCode(orderCode string, at time.Time) (int64, error) {
	var digits strings.Builder
	for _, r := range orderCode {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := fmt.Sprintf("%s%06d", digits.String(), at.UnixMilli()%1_000_000)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order code %q cannot be mapped to a PayOS code: %w", orderCode, err)
	}
	return n, nil
}

func (p *PayOS) Gateway() models.Gateway { return models.GatewayPayOS }

func (p *PayOS) Prepare(order *models.Order, amount int64) (*Attempt, error) {
	if err := requireConfig(models.GatewayPayOS, map[string]string{
		"PAYOS_CLIENT_ID":    p.cfg.ClientID,
		"PAYOS_API_KEY":      p.cfg.APIKey,
		"PAYOS_CHECKSUM_KEY": p.cfg.ChecksumKey,
	}); err != nil {
		return nil, err
	}
	code, err := PayOSOrderCode(order.OrderCode, p.now())
	if err != nil {
		return nil, err
	}
	return &Attempt{
		CorrelationID: strconv.FormatInt(code, 10),
		Metadata: models.JSONMap{
			"payos_order_code": code,
			"order_code":       order.OrderCode,
		},
	}, nil
}

func (p *PayOS) Initiate(ctx context.Context, order *models.Order, txn *models.PaymentTransaction, urls URLs) (*Intent, error) {
	code, err := strconv.ParseInt(txn.TransactionID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("payos transaction id %q is not numeric: %w", txn.TransactionID, err)
	}
	cancelURL := urls.CancelURL
	if cancelURL == "" {
		cancelURL = urls.ReturnURL
	}

	link, err := p.client.createPaymentLink(ctx, payosCheckout{
		OrderCode:   code,
		Amount:      txn.Amount,
		Description: order.OrderCode,
		ReturnURL:   urls.ReturnURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		return nil, err
	}

	return &Intent{
		CorrelationID: txn.TransactionID,
		RedirectURL:   link.CheckoutURL,
		QRPayload:     link.QRCode,
		GatewayRef:    link.PaymentLinkID,
	}, nil
}

// VerifyCallback verifies the webhook. Any verification failure is an invalid signature.
func (p *PayOS) VerifyCallback(ctx context.Context, cb Callback) (*Verification, error) {
	hook, err := p.client.verifyWebhook(cb.Body)
	if err != nil {
		return nil, &models.InvalidSignatureError{Gateway: models.GatewayPayOS, Reason: "webhook verification failed", Err: err}
	}
	return &Verification{
		Gateway:       models.GatewayPayOS,
		Valid:         true,
		CorrelationID: strconv.FormatInt(hook.OrderCode, 10),
		Success:       hook.Success && hook.Code == "00",
		Amount:        hook.Amount,
		ResponseCode:  hook.Code,
		GatewayRef:    hook.Reference,
		Raw:           hook.Raw,
	}, nil
}
