package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/models"
)

const vietQRBase = "https://img.vietqr.io/image"

// BankTransfer shows the shop's account and a VietQR image. Payments are
// confirmed by an admin after the customer uploads proof.
type BankTransfer struct {
	cfg config.BankConfig
	now Clock
}

// NewBankTransfer creates the bank transfer adapter
func NewBankTransfer(cfg config.BankConfig, now Clock) *BankTransfer {
	if now == nil {
		now = time.Now
	}
	return &BankTransfer{cfg: cfg, now: now}
}

func (b *BankTransfer) Gateway() models.Gateway { return models.GatewayBankTransfer }

// BankInfo is the public account description
func (b *BankTransfer) BankInfo() map[string]interface{} {
	return map[string]interface{}{
		"bank_id":        b.cfg.BankID,
		"bank_name":      b.cfg.BankName,
		"account_number": b.cfg.AccountNumber,
		"account_name":   b.cfg.AccountName,
		"branch":         b.cfg.Branch,
	}
}

func (b *BankTransfer) Prepare(order *models.Order, amount int64) (*Attempt, error) {
	if err := requireConfig(models.GatewayBankTransfer, map[string]string{
		"BANK_ID":             b.cfg.BankID,
		"BANK_ACCOUNT_NUMBER": b.cfg.AccountNumber,
		"BANK_ACCOUNT_NAME":   b.cfg.AccountName,
	}); err != nil {
		return nil, err
	}
	ref := fmt.Sprintf("BT_%s_%d", order.OrderCode, b.now().UnixMilli())
	return &Attempt{
		CorrelationID: ref,
		Metadata: models.JSONMap{
			"order_code":       order.OrderCode,
			"transfer_content": ref,
		},
	}, nil
}

func (b *BankTransfer) Initiate(ctx context.Context, order *models.Order, txn *models.PaymentTransaction, urls URLs) (*Intent, error) {
	// the customer types the correlation id into the bank app's memo field
	content := txn.TransactionID

	q := url.Values{}
	q.Set("amount", strconv.FormatInt(txn.Amount, 10))
	q.Set("addInfo", content)
	q.Set("accountName", b.cfg.AccountName)
	qr := fmt.Sprintf("%s/%s-%s-compact2.png?%s", vietQRBase,
		url.PathEscape(b.cfg.BankID), url.PathEscape(b.cfg.AccountNumber), q.Encode())

	extra := b.BankInfo()
	extra["transfer_content"] = content
	extra["amount"] = txn.Amount

	return &Intent{
		CorrelationID: txn.TransactionID,
		QRPayload:     qr,
		Extra:         extra,
	}, nil
}

// VerifyCallback is not supported, see Decide
func (b *BankTransfer) VerifyCallback(ctx context.Context, cb Callback) (*Verification, error) {
	return nil, ErrManualVerification
}

// Decide turns an admin's decision into a verification. The amount is the
// attempt's own amount: the admin confirms the transfer matched it.
func (b *BankTransfer) Decide(txn *models.PaymentTransaction, approved bool, note string) *Verification {
	code := "approved"
	if !approved {
		code = "rejected"
	}
	return &Verification{
		Gateway:       models.GatewayBankTransfer,
		Valid:         true,
		CorrelationID: txn.TransactionID,
		Success:       approved,
		Amount:        txn.Amount,
		ResponseCode:  code,
		Reason:        note,
		Raw: models.JSONMap{
			"decision": code,
			"note":     note,
		},
	}
}
