package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aq2208/gorder-checkout/internal/adapter/gateway"
	"github.com/aq2208/gorder-checkout/internal/logging"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

const (
	ackOK    = "00"
	ackError = "99"
)

// PaymentHandler serves both gateway entry points. The browser return and the
// server notification are applied through the same callback use case.
type PaymentHandler struct {
	callback *usecase.PaymentCallback
	// frontendURL, when set, receives the browser after the return callback.
	frontendURL string
}

func NewPaymentHandler(callback *usecase.PaymentCallback, frontendURL string) *PaymentHandler {
	return &PaymentHandler{callback: callback, frontendURL: frontendURL}
}

type ipnResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IPN acknowledges every notification with HTTP 200. The body code tells the
// gateway whether the notification was accepted, not whether payment succeeded.
func (h *PaymentHandler) IPN(c *gin.Context) {
	params, err := callbackParams(c)
	if err != nil {
		c.JSON(http.StatusOK, ipnResp{Code: ackError, Message: "malformed request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	out, err := h.callback.Handle(ctx, params)
	if err != nil {
		logging.From(c).Warn("payment notification rejected", "ref", params.Get("vnp_TxnRef"), "err", err)
		c.JSON(http.StatusOK, ipnResp{Code: ackError, Message: rejectMessage(err)})
		return
	}

	msg := "confirmed"
	if out.Duplicate {
		msg = "already processed"
	}
	c.JSON(http.StatusOK, ipnResp{Code: ackOK, Message: msg})
}

type returnResp struct {
	OrderCode     string `json:"orderCode"`
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

// Return handles the browser redirect back from the gateway.
func (h *PaymentHandler) Return(c *gin.Context) {
	params, err := callbackParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	out, err := h.callback.Handle(ctx, params)
	if err != nil {
		logging.From(c).Warn("payment return rejected", "ref", params.Get("vnp_TxnRef"), "err", err)
		if h.frontendURL != "" {
			h.redirect(c, params.Get("vnp_TxnRef"), "error")
			return
		}
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid_callback", Message: rejectMessage(err)})
		return
	}

	if h.frontendURL != "" {
		result := "failed"
		if out.Succeeded {
			result = "success"
		}
		h.redirect(c, out.OrderCode, result)
		return
	}
	c.JSON(http.StatusOK, returnResp{
		OrderCode:     out.OrderCode,
		Success:       out.Succeeded,
		Status:        string(out.Status),
		PaymentStatus: string(out.PaymentStatus),
	})
}

func (h *PaymentHandler) redirect(c *gin.Context, orderCode, result string) {
	u, err := url.Parse(h.frontendURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: "internal_error"})
		return
	}
	q := u.Query()
	q.Set("orderCode", orderCode)
	q.Set("result", result)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

// callbackParams merges query string and form body. The gateway sends the
// notification either way depending on merchant settings.
func callbackParams(c *gin.Context) (url.Values, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return c.Request.Form, nil
}

// rejectMessage keeps details of authenticity failures out of the response.
func rejectMessage(err error) string {
	switch {
	case errors.Is(err, usecase.ErrInvalidSignature), errors.Is(err, gateway.ErrMalformedCallback):
		return "invalid signature"
	case errors.Is(err, usecase.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, usecase.ErrAmountMismatch):
		return "invalid amount"
	case errors.Is(err, usecase.ErrNotGatewayOrder):
		return "order not payable"
	default:
		return "unknown error"
	}
}
