package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/models"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	vnpVersion       = "2.1.0"
	vnpDateLayout    = "20060102150405"
	vnpExpireAfter   = 15 * time.Minute
	vnpSecureHash    = "vnp_SecureHash"
	vnpSecureHashTyp = "vnp_SecureHashType"

	// VNPaySuccessCode is vnp_ResponseCode for a completed payment
	VNPaySuccessCode = "00"
	// VNPayCancelledCode is vnp_ResponseCode when the customer abandons the payment page
	VNPayCancelledCode = "24"
)

// VNPay signs redirect URLs with HMAC-SHA512 and verifies return and IPN callbacks
type VNPay struct {
	cfg      config.VNPayConfig
	encoding Encoding
	client   *http.Client
	now      Clock
}

// NewVNPay creates the VNPay adapter
func NewVNPay(cfg config.VNPayConfig, client *http.Client, now Clock) *VNPay {
	if now == nil {
		now = time.Now
	}
	return &VNPay{cfg: cfg, encoding: ParseEncoding(cfg.Encoding), client: client, now: now}
}

func (v *VNPay) Gateway() models.Gateway { return models.GatewayVNPay }

func (v *VNPay) Prepare(order *models.Order, amount int64) (*Attempt, error) {
	if err := requireConfig(models.GatewayVNPay, map[string]string{
		"VNPAY_TMN_CODE":    v.cfg.TmnCode,
		"VNPAY_HASH_SECRET": v.cfg.HashSecret,
		"VNPAY_URL":         v.cfg.PayURL,
	}); err != nil {
		return nil, err
	}
	ref := fmt.Sprintf("%s_%d", order.OrderCode, v.now().UnixMilli())
	return &Attempt{
		CorrelationID: ref,
		Metadata:      models.JSONMap{"order_code": order.OrderCode},
	}, nil
}

// Initiate builds the signed payment URL. No network call is made.
func (v *VNPay) Initiate(ctx context.Context, order *models.Order, txn *models.PaymentTransaction, urls URLs) (*Intent, error) {
	returnURL := urls.ReturnURL
	if returnURL == "" {
		returnURL = v.cfg.ReturnURL
	}
	ip := urls.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	created := v.now().In(ict)

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(txn.Amount*100, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     txn.TransactionID,
		"vnp_OrderInfo":  "Thanh toan don hang " + order.OrderCode,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": created.Format(vnpDateLayout),
		"vnp_ExpireDate": created.Add(vnpExpireAfter).Format(vnpDateLayout),
	}

	hash := HMACSHA512(v.cfg.HashSecret, CanonicalQuery(params, v.encoding))
	payURL := v.cfg.PayURL + "?" + CanonicalQuery(params, EncodingQuery) + "&" + vnpSecureHash + "=" + hash

	return &Intent{
		CorrelationID: txn.TransactionID,
		RedirectURL:   payURL,
		Metadata: models.JSONMap{
			"vnp_create_date": params["vnp_CreateDate"],
			"vnp_order_info":  params["vnp_OrderInfo"],
		},
	}, nil
}

// VerifyCallback checks vnp_SecureHash over every vnp_ field except the hash fields
func (v *VNPay) VerifyCallback(ctx context.Context, cb Callback) (*Verification, error) {
	fields := make(map[string]string)
	for k := range cb.Query {
		if !strings.HasPrefix(k, "vnp_") || k == vnpSecureHash || k == vnpSecureHashTyp {
			continue
		}
		fields[k] = cb.Query.Get(k)
	}

	result := &Verification{
		Gateway:       models.GatewayVNPay,
		CorrelationID: cb.Query.Get("vnp_TxnRef"),
		ResponseCode:  cb.Query.Get("vnp_ResponseCode"),
		GatewayRef:    cb.Query.Get("vnp_TransactionNo"),
		Raw:           rawFromValues(cb.Query),
	}

	received := cb.Query.Get(vnpSecureHash)
	if received == "" {
		result.Reason = "missing vnp_SecureHash"
		return result, nil
	}
	expected := HMACSHA512(v.cfg.HashSecret, CanonicalQuery(fields, v.encoding))
	if !SignatureEqual(expected, received) {
		result.Reason = "vnp_SecureHash mismatch"
		return result, nil
	}
	result.Valid = true

	amount, err := strconv.ParseInt(cb.Query.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("vnpay: invalid vnp_Amount: %w", err)
	}
	result.Amount = amount / 100
	result.Inexact = amount%100 != 0

	status := cb.Query.Get("vnp_TransactionStatus")
	result.Success = result.ResponseCode == VNPaySuccessCode && (status == "" || status == VNPaySuccessCode)
	return result, nil
}

// Query asks VNPay for the authoritative state of a transaction (querydr).
// The response checksum is verified before anything is trusted.
func (v *VNPay) Query(ctx context.Context, txn *models.PaymentTransaction, clientIP string) (*Verification, error) {
	if err := requireConfig(models.GatewayVNPay, map[string]string{
		"VNPAY_TMN_CODE":    v.cfg.TmnCode,
		"VNPAY_HASH_SECRET": v.cfg.HashSecret,
		"VNPAY_API_URL":     v.cfg.APIURL,
	}); err != nil {
		return nil, err
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	txnDate := txn.Metadata.String("vnp_create_date")
	if txnDate == "" {
		txnDate = txn.CreatedAt.In(ict).Format(vnpDateLayout)
	}
	orderInfo := txn.Metadata.String("vnp_order_info")
	if orderInfo == "" {
		orderInfo = "Truy van giao dich " + txn.TransactionID
	}

	req := map[string]string{
		"vnp_RequestId":       strings.ReplaceAll(uuid.NewString(), "-", "")[:20],
		"vnp_Version":         vnpVersion,
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         v.cfg.TmnCode,
		"vnp_TxnRef":          txn.TransactionID,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": txnDate,
		"vnp_CreateDate":      v.now().In(ict).Format(vnpDateLayout),
		"vnp_IpAddr":          clientIP,
	}
	req["vnp_SecureHash"] = HMACSHA512(v.cfg.HashSecret, strings.Join([]string{
		req["vnp_RequestId"], req["vnp_Version"], req["vnp_Command"], req["vnp_TmnCode"],
		req["vnp_TxnRef"], req["vnp_TransactionDate"], req["vnp_CreateDate"],
		req["vnp_IpAddr"], req["vnp_OrderInfo"],
	}, "|"))

	body, err := postJSON(ctx, v.client, models.GatewayVNPay, "querydr", v.cfg.APIURL, nil, req)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	get := func(k string) string { return res.Get(k).String() }

	code := get("vnp_ResponseCode")
	if code != VNPaySuccessCode {
		return nil, fmt.Errorf("vnpay querydr failed: code=%s message=%s", code, get("vnp_Message"))
	}

	checksum := HMACSHA512(v.cfg.HashSecret, strings.Join([]string{
		get("vnp_ResponseId"), get("vnp_Command"), code, get("vnp_Message"), get("vnp_TmnCode"),
		get("vnp_TxnRef"), get("vnp_Amount"), get("vnp_BankCode"), get("vnp_PayDate"),
		get("vnp_TransactionNo"), get("vnp_TransactionType"), get("vnp_TransactionStatus"),
		get("vnp_OrderInfo"), get("vnp_PromotionCode"), get("vnp_PromotionAmount"),
	}, "|"))

	raw := models.JSONMap{}
	res.ForEach(func(k, val gjson.Result) bool {
		raw[k.String()] = val.String()
		return true
	})

	out := &Verification{
		Gateway:       models.GatewayVNPay,
		CorrelationID: get("vnp_TxnRef"),
		ResponseCode:  get("vnp_TransactionStatus"),
		GatewayRef:    get("vnp_TransactionNo"),
		Raw:           raw,
	}
	if !SignatureEqual(checksum, get("vnp_SecureHash")) {
		out.Reason = "querydr checksum mismatch"
		return out, nil
	}
	out.Valid = true
	out.Amount = res.Get("vnp_Amount").Int() / 100

	switch out.ResponseCode {
	case VNPaySuccessCode:
		out.Success = true
	case "01":
		// customer has not finished at the bank
		out.Pending = true
	}
	return out, nil
}
