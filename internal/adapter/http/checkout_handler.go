package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aq2208/gorder-checkout/internal/adapter/http/middleware"
	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type CheckoutHandler struct {
	checkout *usecase.Checkout
	coupons  *usecase.CouponValidator
	timeout  time.Duration
}

func NewCheckoutHandler(checkout *usecase.Checkout, coupons *usecase.CouponValidator, timeout time.Duration) *CheckoutHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CheckoutHandler{checkout: checkout, coupons: coupons, timeout: timeout}
}

type checkoutReq struct {
	CartID        int64  `json:"cartId" binding:"required,gt=0"`
	PaymentMethod string `json:"paymentMethod" binding:"required,oneof=COD GATEWAY"`
	Notes         string `json:"notes" binding:"max=500"`
	CouponCode    string `json:"couponCode" binding:"max=64"`
}

type checkoutResp struct {
	OrderID       int64  `json:"orderId"`
	OrderCode     string `json:"orderCode"`
	TotalAmount   int64  `json:"totalAmount"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
}

// Checkout handler: POST /v1/checkout
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	out, err := h.checkout.Execute(ctx, usecase.CheckoutInput{
		CustomerID:     middleware.CustomerID(c),
		CartID:         req.CartID,
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		Notes:          req.Notes,
		CouponCode:     req.CouponCode,
		ClientIP:       c.ClientIP(),
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"), // prevent duplicated requests
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, checkoutResp{
		OrderID:       out.OrderID,
		OrderCode:     out.OrderCode,
		TotalAmount:   out.Total,
		Status:        string(out.Status),
		PaymentStatus: string(out.PaymentStatus),
		PaymentURL:    out.PaymentURL,
	})
}

type couponReq struct {
	Code     string `json:"code" binding:"required,max=64"`
	Subtotal int64  `json:"subtotal" binding:"required,gt=0"`
}

type couponResp struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	Discount int64  `json:"discount"`
}

// ValidateCoupon previews a coupon against a subtotal: POST /v1/coupons/validate
func (h *CheckoutHandler) ValidateCoupon(c *gin.Context) {
	var req couponReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	q, err := h.coupons.Validate(ctx, req.Code, middleware.CustomerID(c), req.Subtotal)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, couponResp{Code: q.Coupon.Code, Type: string(q.Coupon.Type), Discount: q.Discount})
}
