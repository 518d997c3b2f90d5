package api

import (
	"net/http"

	"evshop-payment/internal/auth"

	"github.com/gin-gonic/gin"
)

type trackRequest struct {
	OrderCode string `json:"order_code" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
}

type phoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// trackOrder looks an order up by code and phone. A wrong phone answers like an unknown code.
func (h *Handler) trackOrder(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.tracking.TrackOrder(c.Request.Context(), req.OrderCode, req.Phone)
	if err != nil {
		writeError(c, err)
		return
	}
	if order == nil {
		fail(c, http.StatusNotFound, "Order not found")
		return
	}
	ok(c, http.StatusOK, "OK", order)
}

// listGuestOrders lists the orders of the phone verified by OTP. Admins pass ?phone=.
func (h *Handler) listGuestOrders(c *gin.Context) {
	claims := claimsFrom(c)
	phone := claims.Phone
	if claims.Role == auth.RoleAdmin {
		phone = c.Query("phone")
	}
	if phone == "" {
		fail(c, http.StatusBadRequest, "phone is required")
		return
	}

	orders, err := h.tracking.ListOrders(c.Request.Context(), phone)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "OK", orders)
}

// sendOTP issues a code for the phone
func (h *Handler) sendOTP(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sent, err := h.tracking.SendOTP(c.Request.Context(), req.Phone)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "If the number has orders, a code was sent to the e-mail on file", sent)
}

// verifyOTP exchanges a code for a guest token
func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	token, err := h.tracking.VerifyOTP(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "Verified", gin.H{"token": token})
}
