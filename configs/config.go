package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHECKOUT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
		RequestTimeout  time.Duration `koanf:"request_timeout"`
		AllowedOrigins  []string      `koanf:"allowed_origins"`
	} `koanf:"http"`

	Storage struct {
		// Driver is mysql or memory. memory seeds a demo catalog and is for local runs only.
		Driver string `koanf:"driver"`
	} `koanf:"storage"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string        `koanf:"addr"`
		Password string        `koanf:"password"`
		DB       int           `koanf:"db"`
		CacheTTL time.Duration `koanf:"cache_ttl"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Rabbit struct {
		URL      string `koanf:"url"`
		Exchange string `koanf:"exchange"`
		Prefetch int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Outbox struct {
		Interval time.Duration `koanf:"interval"`
		Batch    int           `koanf:"batch"`
	} `koanf:"outbox"`

	Kafka struct {
		Brokers []string `koanf:"brokers"`
		GroupID string   `koanf:"group_id"`
		Topic   string   `koanf:"topic"`
		Oldest  bool     `koanf:"oldest"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
		Audience  string `koanf:"audience"`
	} `koanf:"security"`

	Gateway struct {
		PayURL      string        `koanf:"pay_url"`
		TmnCode     string        `koanf:"tmn_code"`
		HashSecret  string        `koanf:"hash_secret"`
		ReturnURL   string        `koanf:"return_url"`
		FrontendURL string        `koanf:"frontend_url"`
		Locale      string        `koanf:"locale"`
		Timezone    string        `koanf:"timezone"`
		ExpireAfter time.Duration `koanf:"expire_after"`
	} `koanf:"gateway"`

	Checkout struct {
		ShippingFee int64  `koanf:"shipping_fee"`
		Currency    string `koanf:"currency"`
	} `koanf:"checkout"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix CHECKOUT_, nested with __)
	// e.g. CHECKOUT_MYSQL__DSN, CHECKOUT_GATEWAY__HASH_SECRET
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.App.HTTPAddr == "" {
		errs = append(errs, errors.New("app.http_addr required"))
	}
	switch c.Storage.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			errs = append(errs, errors.New("mysql.dsn required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be mysql or memory, got %q", c.Storage.Driver))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret required"))
	}
	if c.Gateway.PayURL == "" || c.Gateway.ReturnURL == "" {
		errs = append(errs, errors.New("gateway.pay_url and gateway.return_url required"))
	}
	if c.Gateway.TmnCode == "" || c.Gateway.HashSecret == "" {
		errs = append(errs, errors.New("gateway.tmn_code and gateway.hash_secret required"))
	}
	if c.Checkout.ShippingFee < 0 {
		errs = append(errs, errors.New("checkout.shipping_fee must not be negative"))
	}
	if c.Checkout.Currency == "" {
		errs = append(errs, errors.New("checkout.currency required"))
	}
	return errors.Join(errs...)
}
