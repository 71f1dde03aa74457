package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/aq2208/gorder-checkout/configs"
	"github.com/aq2208/gorder-checkout/internal/adapter/cache"
	"github.com/aq2208/gorder-checkout/internal/adapter/gateway"
	"github.com/aq2208/gorder-checkout/internal/adapter/http"
	"github.com/aq2208/gorder-checkout/internal/adapter/http/middleware"
	"github.com/aq2208/gorder-checkout/internal/adapter/kafka"
	"github.com/aq2208/gorder-checkout/internal/adapter/memstore"
	"github.com/aq2208/gorder-checkout/internal/adapter/observ"
	"github.com/aq2208/gorder-checkout/internal/adapter/queue"
	"github.com/aq2208/gorder-checkout/internal/adapter/repo"
	"github.com/aq2208/gorder-checkout/internal/logging"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type App struct {
	Router *gin.Engine

	workers sync.WaitGroup
}

// Wait blocks until background workers have stopped. They stop when the
// context passed to InitWithConfig is cancelled.
func (a *App) Wait() { a.workers.Wait() }

func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, func(), error) {
	log := logging.FromCtx(ctx)
	log.Info("checkout-api: Starting up...")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// init store
	var store usecase.Store
	switch cfg.Storage.Driver {
	case "memory":
		mem := memstore.New()
		seedDemo(mem)
		store = mem
		log.Warn("using in-memory store with demo data")
	default:
		db, err := repo.Open(ctx, cfg.MySQL.DSN, repo.PoolConfig{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = db.Close() })
		store = repo.NewMySQLStore(db)
	}

	// init redis (optional: idempotency + status cache)
	var (
		idem        usecase.IdempotencyStore
		statusCache usecase.OrderCache
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		closers = append(closers, func() { _ = rdb.Close() })
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
		statusCache = cache.NewRedisCache(rdb, cfg.Redis.CacheTTL)
	} else {
		log.Warn("redis not configured: idempotency keys and status cache disabled")
	}

	gw, err := gateway.New(gateway.Config{
		PayURL:      cfg.Gateway.PayURL,
		TmnCode:     cfg.Gateway.TmnCode,
		HashSecret:  cfg.Gateway.HashSecret,
		ReturnURL:   cfg.Gateway.ReturnURL,
		Locale:      cfg.Gateway.Locale,
		Timezone:    cfg.Gateway.Timezone,
		ExpireAfter: cfg.Gateway.ExpireAfter,
	})
	if err != nil {
		return fail(err)
	}

	// use cases
	metrics := observ.NewMetrics(prometheus.DefaultRegisterer)
	ledger := usecase.NewInventoryLedger()
	coupons := usecase.NewCouponValidator(store, cfg.Checkout.Currency)
	checkoutUC := usecase.NewCheckout(store, coupons, ledger, gw, idem, usecase.CheckoutConfig{
		ShippingFee: cfg.Checkout.ShippingFee,
		Currency:    cfg.Checkout.Currency,
	}).WithObserver(metrics)
	callbackUC := usecase.NewPaymentCallback(store, gw, ledger).WithObserver(metrics)
	statusUC := usecase.NewOrderStatus(store, ledger)
	queryUC := usecase.NewOrderQuery(store, statusCache)

	a := &App{}

	// init rabbitmq: outbox relay + status projection
	if cfg.Rabbit.URL != "" {
		conn, err := amqp.Dial(cfg.Rabbit.URL)
		if err != nil {
			return fail(fmt.Errorf("dial rabbitmq: %w", err))
		}
		closers = append(closers, func() { _ = conn.Close() })
		if err := setupQueue(ctx, a, conn, cfg, store, statusCache, metrics); err != nil {
			return fail(err)
		}
	} else {
		log.Warn("rabbitmq not configured: outbox events stay pending")
	}

	// register kafka-listener
	if len(cfg.Kafka.Brokers) > 0 {
		closeGroup, err := setupKafkaListener(ctx, a, cfg, statusUC)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closeGroup)
	}

	// init handlers + routers + middleware
	h := http.Handlers{
		Checkout: http.NewCheckoutHandler(checkoutUC, coupons, cfg.HTTP.RequestTimeout),
		Orders:   http.NewOrderHandler(queryUC, statusUC),
		Payments: http.NewPaymentHandler(callbackUC, cfg.Gateway.FrontendURL),
	}
	auth := middleware.NewAuthz(middleware.AuthConfig{
		JWTSecret: cfg.Security.JWTSecret,
		Issuer:    cfg.Security.Issuer,
		Audience:  cfg.Security.Audience,
	})
	a.Router = http.NewRouter(h, auth, log.With("component", "http"), http.RouterConfig{AllowedOrigins: cfg.HTTP.AllowedOrigins})

	return a, cleanup, nil
}

func setupQueue(ctx context.Context, a *App, conn *amqp.Connection, cfg configs.Config, store usecase.Store, statusCache usecase.OrderCache, obs usecase.Observer) error {
	exchange := cfg.Rabbit.Exchange
	if exchange == "" {
		exchange = queue.ExchangeName
	}

	// publisher channel runs in confirm mode, so consumers get their own
	pubCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := queue.Declare(pubCh, exchange); err != nil {
		return err
	}
	producer, err := queue.NewRabbitProducer(pubCh, exchange)
	if err != nil {
		return err
	}

	relay := usecase.NewOutboxRelay(store.Outbox(), producer, cfg.Outbox.Batch).WithObserver(obs)
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		relay.Run(ctx, cfg.Outbox.Interval)
	}()

	if statusCache == nil {
		return nil
	}
	subCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	projector := queue.NewOrderEventProjector(statusCache)
	router := queue.NewRouter(subCh, queue.WithPrefetch(cfg.Rabbit.Prefetch))
	router.Register(queue.StatusQueueName, queue.JSONHandler[usecase.OrderEventMsg]{HandleFunc: projector.HandleEvent})
	return router.Start(ctx)
}

func setupKafkaListener(ctx context.Context, a *App, cfg configs.Config, orders kafka.Transitioner) (func(), error) {
	grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Oldest)
	if err != nil {
		return nil, fmt.Errorf("kafka group: %w", err)
	}

	h := kafka.NewFulfillmentStatusHandler(orders)
	consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.Topic}, h.Handle)

	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		if err := consumer.Start(ctx); err != nil {
			logging.FromCtx(ctx).Error("kafka consumer stopped", "err", err)
		}
	}()

	return func() { _ = grp.Close() }, nil
}
