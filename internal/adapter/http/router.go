package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aq2208/gorder-checkout/internal/adapter/http/middleware"
	"github.com/aq2208/gorder-checkout/internal/logging"
)

type Handlers struct {
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Payments *PaymentHandler
}

type RouterConfig struct {
	AllowedOrigins []string
}

func NewRouter(h Handlers, authz *middleware.Authz, log *slog.Logger, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())
	r.Use(middleware.Logging(log))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", "X-Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		logging.From(c).Debug("health check")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/checkout", authz.Require(middleware.PermOrdersWrite), h.Checkout.Checkout)
		v1.POST("/coupons/validate", authz.Require(), h.Checkout.ValidateCoupon)

		v1.GET("/orders/:code", authz.Require(middleware.PermOrdersRead), h.Orders.GetOrder)
		v1.GET("/orders/:code/status", authz.Require(), h.Orders.GetOrderStatus)
		v1.PUT("/admin/orders/:code/status", authz.Require(middleware.PermOrdersAdmin), h.Orders.UpdateStatus)

		// Gateway callbacks authenticate through the signed payload, not a bearer token.
		v1.GET("/payments/vnpay/return", h.Payments.Return)
		v1.GET("/payments/vnpay/ipn", h.Payments.IPN)
		v1.POST("/payments/vnpay/ipn", h.Payments.IPN)
	}

	return r
}
