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

type OrderHandler struct {
	query  *usecase.OrderQuery
	status *usecase.OrderStatus
}

func NewOrderHandler(query *usecase.OrderQuery, status *usecase.OrderStatus) *OrderHandler {
	return &OrderHandler{query: query, status: status}
}

type orderItemResp struct {
	ProductID   int64  `json:"productId"`
	VariantID   *int64 `json:"variantId,omitempty"`
	ProductName string `json:"productName"`
	VariantName string `json:"variantName,omitempty"`
	SKU         string `json:"sku,omitempty"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"lineTotal"`
}

type orderResp struct {
	OrderID             int64           `json:"orderId"`
	OrderCode           string          `json:"orderCode"`
	Status              string          `json:"status"`
	PaymentMethod       string          `json:"paymentMethod"`
	PaymentStatus       string          `json:"paymentStatus"`
	Subtotal            int64           `json:"subtotal"`
	Discount            int64           `json:"discount"`
	ShippingFee         int64           `json:"shippingFee"`
	TotalAmount         int64           `json:"totalAmount"`
	Currency            string          `json:"currency"`
	Notes               string          `json:"notes,omitempty"`
	NeedsReconciliation bool            `json:"needsReconciliation,omitempty"`
	Items               []orderItemResp `json:"items"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func toOrderResp(o *domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			SKU:         it.SKU,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			LineTotal:   it.LineTotal,
		})
	}
	return orderResp{
		OrderID:             o.ID,
		OrderCode:           o.Code,
		Status:              string(o.Status),
		PaymentMethod:       string(o.PaymentMethod),
		PaymentStatus:       string(o.PaymentStatus),
		Subtotal:            o.Subtotal,
		Discount:            o.Discount,
		ShippingFee:         o.ShippingFee,
		TotalAmount:         o.Total,
		Currency:            o.Currency,
		Notes:               o.Notes,
		NeedsReconciliation: o.NeedsReconciliation,
		Items:               items,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

// owner limits lookups to the caller's own orders unless they hold the admin permission.
func owner(c *gin.Context) string {
	if middleware.HasPerm(c, middleware.PermOrdersAdmin) {
		return ""
	}
	return middleware.CustomerID(c)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	o, err := h.query.Get(ctx, c.Param("code"), owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResp(o))
}

func (h *OrderHandler) GetOrderStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	snap, err := h.query.Status(ctx, c.Param("code"), owner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderCode":     snap.OrderCode,
		"status":        snap.Status,
		"paymentStatus": snap.PaymentStatus,
		"updatedAt":     snap.UpdatedAt,
	})
}

type statusReq struct {
	Status string `json:"status" binding:"required,oneof=CONFIRMED PREPARING SHIPPING COMPLETED CANCELLED REFUNDED RETURNED"`
	Reason string `json:"reason" binding:"max=255"`
}

// UpdateStatus handler for operators: PUT /v1/admin/orders/:code/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	o, err := h.status.Transition(ctx, usecase.TransitionInput{
		OrderCode: c.Param("code"),
		Status:    domain.Status(req.Status),
		Reason:    req.Reason,
		Actor:     middleware.CustomerID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResp(o))
}
