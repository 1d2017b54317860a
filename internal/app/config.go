package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr             string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL      string        `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	DatabaseMaxConns int32         `default:"10" usage:"Maximum PostgreSQL connections" flag:"database-max-conns"`
	RedisURL         string        `usage:"Redis URL for the coupon cache and shared rate limits, empty disables both" flag:"redis-url"`
	CouponCacheTTL   time.Duration `default:"30s" usage:"Coupon cache entry lifetime" flag:"coupon-cache-ttl"`
	ImageBaseURL     string        `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper     string        `usage:"HMAC pepper for API key hashing (STOREFRONT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Checkout         CheckoutConfig
	RateLimit        RateLimitConfig
	CORS             CORSConfig
	Graceful         GracefulConfig
}

// CheckoutConfig holds the delivery fee policy. Amounts are decimal strings.
type CheckoutConfig struct {
	ShippingFee           string `default:"4.99" usage:"Delivery fee added to orders"`
	FreeShippingThreshold string `default:"50" usage:"Subtotal at which delivery is free, 0 disables"`
	Currency              string `default:"USD" usage:"ISO currency code echoed on orders"`
}

// Pricing parses the fee policy.
func (c CheckoutConfig) Pricing() (order.Pricing, error) {
	fee, err := decimal.NewFromString(c.ShippingFee)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse shipping fee")
	}
	threshold, err := decimal.NewFromString(c.FreeShippingThreshold)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse free shipping threshold")
	}
	if fee.IsNegative() || threshold.IsNegative() {
		return order.Pricing{}, errors.New("checkout amounts must not be negative")
	}
	return order.Pricing{ShippingFee: fee, FreeShippingThreshold: threshold}, nil
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		Files: []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	ac.EnvPrefix = "STOREFRONT"

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Checkout.Pricing(); err != nil {
		return nil, errors.Wrap(err, "checkout")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
