package api

import (
	"net/http"

	"evshop-payment/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, "Order created", order)
}

// getOrder returns one order by code
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "OK", order)
}

// updateOrderStatus applies an admin fulfilment transition
func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, applied, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("code"), &req, adminName(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !applied {
		c.AbortWithStatusJSON(http.StatusConflict, envelope{
			Success: false,
			Message: "Status change is not allowed from " + string(order.Statuses),
			Data:    order,
		})
		return
	}
	ok(c, http.StatusOK, "Order status updated", order)
}
