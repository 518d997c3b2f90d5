package api

import (
	"errors"
	"net/http"

	"evshop-payment/internal/gateway"
	"evshop-payment/internal/models"
	"evshop-payment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// envelope is the body of every response
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message})
}

// statusFor maps service errors to an HTTP status and a client-safe message
func statusFor(err error) (int, string) {
	var (
		notFound   *models.OrderNotFoundError
		cfgErr     *models.GatewayConfigError
		sigErr     *models.InvalidSignatureError
		mismatch   *models.AmountMismatchError
		validation validator.ValidationErrors
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, models.ErrVehicleNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, models.ErrTransactionNotFound):
		return http.StatusNotFound, "Payment transaction not found"
	case errors.Is(err, gateway.ErrUnknownGateway):
		return http.StatusNotFound, "Payment method is not available"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "Payment method is not configured"
	case errors.Is(err, models.ErrGatewayTimeout):
		return http.StatusGatewayTimeout, "Payment provider did not respond, please try again"
	case errors.As(err, &sigErr):
		return http.StatusBadRequest, "Invalid payment signature"
	case errors.As(err, &mismatch):
		return http.StatusConflict, "Payment amount does not match the order, it has been sent for review"
	case errors.Is(err, models.ErrOrderNotPayable), errors.Is(err, models.ErrNothingDue):
		return http.StatusConflict, "Order cannot be paid in its current status"
	case errors.Is(err, models.ErrOTPCooldown):
		return http.StatusTooManyRequests, "Please wait before requesting a new code"
	case errors.Is(err, models.ErrOTPAttemptsExceeded):
		return http.StatusTooManyRequests, "Too many wrong attempts, request a new code"
	case errors.Is(err, models.ErrOTPInvalid):
		return http.StatusBadRequest, "Code is invalid or expired"
	case errors.Is(err, gateway.ErrManualVerification):
		return http.StatusBadRequest, "This payment is verified by our staff"
	case errors.As(err, &validation), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError logs server-side failures and answers with the mapped status
func writeError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	fail(c, status, message)
}

// bindError answers a request that failed binding; details are validation messages only
func bindError(c *gin.Context, err error) {
	var validation validator.ValidationErrors
	if errors.As(err, &validation) {
		fields := make(map[string]string, len(validation))
		for _, fe := range validation {
			fields[fe.Field()] = fe.Tag()
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, envelope{Success: false, Message: "Invalid request", Data: fields})
		return
	}
	fail(c, http.StatusBadRequest, "Invalid request body")
}
