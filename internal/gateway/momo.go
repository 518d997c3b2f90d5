package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/models"

	"github.com/tidwall/gjson"
)

const momoRequestType = "captureWallet"

// MoMo creates captureWallet payments and verifies IPN/return callbacks with HMAC-SHA256
type MoMo struct {
	cfg    config.MoMoConfig
	client *http.Client
	now    Clock
}

// NewMoMo creates the MoMo adapter
func NewMoMo(cfg config.MoMoConfig, client *http.Client, now Clock) *MoMo {
	if now == nil {
		now = time.Now
	}
	return &MoMo{cfg: cfg, client: client, now: now}
}

func (m *MoMo) Gateway() models.Gateway { return models.GatewayMoMo }

func (m *MoMo) Prepare(order *models.Order, amount int64) (*Attempt, error) {
	if err := requireConfig(models.GatewayMoMo, map[string]string{
		"MOMO_PARTNER_CODE": m.cfg.PartnerCode,
		"MOMO_ACCESS_KEY":   m.cfg.AccessKey,
		"MOMO_SECRET_KEY":   m.cfg.SecretKey,
		"MOMO_ENDPOINT":     m.cfg.Endpoint,
	}); err != nil {
		return nil, err
	}
	return &Attempt{
		CorrelationID: fmt.Sprintf("%s_MM%d", order.OrderCode, m.now().UnixMilli()),
		Metadata:      models.JSONMap{"order_code": order.OrderCode},
	}, nil
}

func (m *MoMo) Initiate(ctx context.Context, order *models.Order, txn *models.PaymentTransaction, urls URLs) (*Intent, error) {
	redirectURL := urls.ReturnURL
	if redirectURL == "" {
		redirectURL = m.cfg.RedirectURL
	}
	ipnURL := urls.NotifyURL
	if ipnURL == "" {
		ipnURL = m.cfg.IPNURL
	}

	fields := map[string]string{
		"accessKey":   m.cfg.AccessKey,
		"amount":      strconv.FormatInt(txn.Amount, 10),
		"extraData":   "",
		"ipnUrl":      ipnURL,
		"orderId":     txn.TransactionID,
		"orderInfo":   "Thanh toan don hang " + order.OrderCode,
		"partnerCode": m.cfg.PartnerCode,
		"redirectUrl": redirectURL,
		"requestId":   txn.TransactionID,
		"requestType": momoRequestType,
	}
	signature := HMACSHA256(m.cfg.SecretKey, CanonicalQuery(fields, EncodingRaw))

	req := map[string]interface{}{
		"partnerCode": m.cfg.PartnerCode,
		"requestId":   fields["requestId"],
		"amount":      txn.Amount,
		"orderId":     fields["orderId"],
		"orderInfo":   fields["orderInfo"],
		"redirectUrl": redirectURL,
		"ipnUrl":      ipnURL,
		"requestType": momoRequestType,
		"extraData":   "",
		"lang":        "vi",
		"signature":   signature,
	}

	body, err := postJSON(ctx, m.client, models.GatewayMoMo, "create", m.cfg.Endpoint, nil, req)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if code := res.Get("resultCode").Int(); code != 0 {
		return nil, fmt.Errorf("momo create failed: resultCode=%d message=%s", code, res.Get("message").String())
	}

	return &Intent{
		CorrelationID: txn.TransactionID,
		RedirectURL:   res.Get("payUrl").String(),
		QRPayload:     res.Get("qrCodeUrl").String(),
		Extra: map[string]interface{}{
			"deeplink": res.Get("deeplink").String(),
		},
	}, nil
}

// VerifyCallback accepts the IPN JSON body or the redirect query string.
// The signature covers every received field except itself, plus accessKey.
func (m *MoMo) VerifyCallback(ctx context.Context, cb Callback) (*Verification, error) {
	fields := make(map[string]string)
	if len(cb.Body) > 0 {
		if !gjson.ValidBytes(cb.Body) {
			return nil, &models.InvalidSignatureError{Gateway: models.GatewayMoMo, Reason: "malformed IPN body"}
		}
		gjson.ParseBytes(cb.Body).ForEach(func(k, v gjson.Result) bool {
			fields[k.String()] = v.String()
			return true
		})
	} else {
		for k := range cb.Query {
			fields[k] = cb.Query.Get(k)
		}
	}

	received := fields["signature"]
	delete(fields, "signature")

	raw := models.JSONMap{}
	for k, v := range fields {
		raw[k] = v
	}

	result := &Verification{
		Gateway:       models.GatewayMoMo,
		CorrelationID: fields["orderId"],
		ResponseCode:  fields["resultCode"],
		GatewayRef:    fields["transId"],
		Raw:           raw,
	}

	fields["accessKey"] = m.cfg.AccessKey
	expected := HMACSHA256(m.cfg.SecretKey, CanonicalQuery(fields, EncodingRaw))
	if !SignatureEqual(expected, received) {
		result.Reason = "signature mismatch"
		return result, nil
	}
	result.Valid = true

	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("momo: invalid amount: %w", err)
	}
	result.Amount = amount
	result.Success = result.ResponseCode == "0"
	// 1000: authorised, waiting for the customer to confirm
	result.Pending = result.ResponseCode == "1000"
	return result, nil
}
