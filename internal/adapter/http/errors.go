package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/logging"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// Details carries stock shortfalls so the storefront can adjust the cart.
	Details any `json:"details,omitempty"`
}

// writeError maps use case errors to HTTP responses. Unknown errors are
// logged and hidden behind a generic 500.
func writeError(c *gin.Context, err error) {
	var (
		stockErr  *usecase.InsufficientStockError
		couponErr *usecase.CouponError
	)
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, errorResp{Error: "insufficient_stock", Message: stockErr.Error(), Details: gin.H{
			"variantId": stockErr.VariantID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		}})
	case errors.As(err, &couponErr):
		c.JSON(http.StatusConflict, errorResp{Error: "coupon_rejected", Message: couponErr.Reason})
	case errors.Is(err, usecase.ErrDuplicate):
		c.JSON(http.StatusConflict, errorResp{Error: "duplicate_request", Message: "a request with this idempotency key is in progress"})
	case errors.Is(err, usecase.ErrVariantUnavailable):
		c.JSON(http.StatusConflict, errorResp{Error: "variant_unavailable", Message: err.Error()})
	case errors.Is(err, usecase.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResp{Error: "invalid_transition", Message: err.Error()})
	case errors.Is(err, usecase.ErrCartNotFound), errors.Is(err, usecase.ErrOrderNotFound), errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResp{Error: "not_found", Message: err.Error()})
	case errors.Is(err, usecase.ErrEmptyCart), errors.Is(err, usecase.ErrInvalidCart),
		errors.Is(err, usecase.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrNegativeTotal):
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid_request", Message: err.Error()})
	default:
		logging.From(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResp{Error: "internal_error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResp{Error: "bad_request", Message: err.Error()})
}
