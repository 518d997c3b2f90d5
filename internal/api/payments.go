package api

import (
	"errors"
	"io"
	"net/http"

	"evshop-payment/internal/gateway"
	"evshop-payment/internal/models"
	"evshop-payment/internal/service"
	"evshop-payment/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

var proofContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// callbackView is what a browser return shows; provider payloads are never echoed
type callbackView struct {
	Outcome       service.Outcome          `json:"outcome"`
	OrderCode     string                   `json:"order_code,omitempty"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Status        models.TransactionStatus `json:"status,omitempty"`
	Amount        int64                    `json:"amount,omitempty"`
	ResponseCode  string                   `json:"response_code,omitempty"`
}

func viewOf(res *service.ReconcileResult) callbackView {
	v := callbackView{Outcome: res.Outcome, ResponseCode: res.ResponseCode}
	if t := res.Transaction; t != nil {
		v.TransactionID = t.TransactionID
		v.Status = t.Status
		v.Amount = t.Amount
		v.OrderCode = t.Metadata.String("order_code")
	}
	if res.Order != nil {
		v.OrderCode = res.Order.OrderCode
	}
	return v
}

func (h *Handler) createPayment(c *gin.Context, gw models.Gateway) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.ClientIP = c.ClientIP()

	intent, err := h.payments.CreatePayment(c.Request.Context(), gw, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, "Payment created", intent)
}

func (h *Handler) createVNPay(c *gin.Context)        { h.createPayment(c, models.GatewayVNPay) }
func (h *Handler) createMoMo(c *gin.Context)         { h.createPayment(c, models.GatewayMoMo) }
func (h *Handler) createPayOS(c *gin.Context)        { h.createPayment(c, models.GatewayPayOS) }
func (h *Handler) createPayPal(c *gin.Context)       { h.createPayment(c, models.GatewayPayPal) }
func (h *Handler) createBankTransfer(c *gin.Context) { h.createPayment(c, models.GatewayBankTransfer) }

// browserReturn reconciles a signed redirect and shows the outcome
func (h *Handler) browserReturn(c *gin.Context, gw models.Gateway, messages map[string]string) {
	res, err := h.payments.HandleCallback(c.Request.Context(), gw, gateway.Callback{Query: c.Request.URL.Query()})
	var mismatch *models.AmountMismatchError
	if err != nil && !errors.As(err, &mismatch) {
		writeError(c, err)
		return
	}
	if err != nil {
		fail(c, http.StatusConflict, "Payment amount does not match the order, it has been sent for review")
		return
	}

	view := viewOf(res)
	message := messages[res.ResponseCode]
	if message == "" {
		message = defaultMessage(res.Outcome)
	}
	success := res.Outcome == service.OutcomeSuccess ||
		(res.Outcome == service.OutcomeDuplicate && view.Status == models.TransactionStatusSuccess)
	c.JSON(http.StatusOK, envelope{Success: success, Message: message, Data: view})
}

func defaultMessage(o service.Outcome) string {
	switch o {
	case service.OutcomeSuccess:
		return "Payment successful"
	case service.OutcomePending:
		return "Payment is being processed"
	case service.OutcomeDuplicate:
		return "Payment already processed"
	default:
		return "Payment was not completed"
	}
}

func (h *Handler) vnpayReturn(c *gin.Context) { h.browserReturn(c, models.GatewayVNPay, vnpayMessages) }
func (h *Handler) momoReturn(c *gin.Context)  { h.browserReturn(c, models.GatewayMoMo, momoMessages) }

// vnpayIPN answers VNPay's server notification. VNPay reads RspCode; the HTTP status is always 200.
func (h *Handler) vnpayIPN(c *gin.Context) {
	query := c.Request.URL.Query()
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil && len(c.Request.PostForm) > 0 {
			query = c.Request.PostForm
		}
	}

	res, err := h.payments.HandleCallback(c.Request.Context(), models.GatewayVNPay, gateway.Callback{Query: query})
	code, message := vnpayIPNCode(res, err)
	if code == "99" {
		util.GetLogger().Error("VNPay IPN failed", zap.Error(err))
	}

	body := gin.H{
		"success": code == "00",
		"message": message,
		"RspCode": code,
		"Message": message,
	}
	if res != nil {
		body["data"] = viewOf(res)
	}
	c.JSON(http.StatusOK, body)
}

func vnpayIPNCode(res *service.ReconcileResult, err error) (string, string) {
	var (
		sigErr   *models.InvalidSignatureError
		mismatch *models.AmountMismatchError
	)
	switch {
	case errors.As(err, &sigErr):
		return "97", "Invalid signature"
	case errors.Is(err, models.ErrTransactionNotFound):
		return "01", "Order not found"
	case errors.As(err, &mismatch):
		return "04", "Invalid amount"
	case err != nil:
		return "99", "Unknown error"
	case res.Outcome == service.OutcomeDuplicate:
		return "02", "Order already confirmed"
	default:
		return "00", "Confirm Success"
	}
}

// webhook reconciles a server-to-server JSON notification and always answers 200
func (h *Handler) webhook(c *gin.Context, gw models.Gateway) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusOK, envelope{Success: false, Message: "Unreadable body"})
		return
	}

	res, err := h.payments.HandleCallback(c.Request.Context(), gw, gateway.Callback{Body: body})
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			util.GetLogger().Error("Webhook failed", zap.String("gateway", string(gw)), zap.Error(err))
		}
		c.JSON(http.StatusOK, envelope{Success: false, Message: message})
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Message: defaultMessage(res.Outcome), Data: viewOf(res)})
}

func (h *Handler) momoIPN(c *gin.Context)      { h.webhook(c, models.GatewayMoMo) }
func (h *Handler) payosWebhook(c *gin.Context) { h.webhook(c, models.GatewayPayOS) }

// vnpayQuery asks VNPay for the state of a pending attempt
func (h *Handler) vnpayQuery(c *gin.Context) {
	id := c.Query("transaction_id")
	if id == "" {
		fail(c, http.StatusBadRequest, "transaction_id is required")
		return
	}
	res, err := h.payments.QueryVNPay(c.Request.Context(), id, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, defaultMessage(res.Outcome), viewOf(res))
}

func (h *Handler) payosResolve(c *gin.Context) {
	res, err := h.payments.ResolvePayOS(c.Request.Context(), c.Param("orderCode"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "OK", res)
}

type captureRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// paypalCapture captures the PayPal order the buyer approved
func (h *Handler) paypalCapture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.payments.CapturePayPal(c.Request.Context(), req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	view := viewOf(res)
	success := view.Status == models.TransactionStatusSuccess
	c.JSON(http.StatusOK, envelope{Success: success, Message: defaultMessage(res.Outcome), Data: view})
}

// uploadProof accepts a bank transfer receipt as multipart form fields order_code,
// phone and proof. A guest token stands in for the phone field.
func (h *Handler) uploadProof(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxProofBytes+(1<<20))

	code := c.PostForm("order_code")
	phone := c.PostForm("phone")
	if claims := claimsFrom(c); claims != nil && phone == "" {
		phone = claims.Phone
	}
	file, header, err := c.Request.FormFile("proof")
	if code == "" || phone == "" || err != nil {
		fail(c, http.StatusBadRequest, "order_code, phone and proof are required")
		return
	}
	defer file.Close()

	if header.Size > h.opts.MaxProofBytes {
		fail(c, http.StatusRequestEntityTooLarge, "Proof file is too large")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !proofContentTypes[contentType] {
		fail(c, http.StatusUnsupportedMediaType, "Proof must be an image or PDF")
		return
	}

	txn, err := h.payments.UploadProof(c.Request.Context(), &service.ProofUpload{
		OrderCode:   code,
		Phone:       phone,
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "Proof received, awaiting verification", gin.H{
		"transaction_id": txn.TransactionID,
		"status":         txn.Status,
	})
}

// verifyBankTransfer records an admin decision on a transfer
func (h *Handler) verifyBankTransfer(c *gin.Context) {
	var req service.VerifyBankTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.OrderCode == "" && req.TransactionID == "" {
		fail(c, http.StatusBadRequest, "order_code or transaction_id is required")
		return
	}

	res, err := h.payments.VerifyBankTransfer(c.Request.Context(), &req, adminName(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, defaultMessage(res.Outcome), viewOf(res))
}

func (h *Handler) bankInfo(c *gin.Context) {
	info, err := h.payments.BankInfo()
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "OK", info)
}
