// Package app wires the storefront API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/cache"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const healthInterval = 10 * time.Second

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	return run(ctx, lg, m, cfg)
}

func run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricing, err := cfg.Checkout.Pricing()
	if err != nil {
		return errors.Wrap(err, "checkout pricing")
	}
	if cfg.APIKeyPepper == "" {
		lg.Warn("API key pepper is empty, admin keys are hashed without a secret")
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL,
		repository.WithMaxConns(cfg.DatabaseMaxConns),
		repository.WithApplicationName("storefront-api"),
	)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, health.Check{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Func:    health.PingCheck("postgres", pool),
	})
	healthSvc.Register(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Redis backs the coupon cache and the shared rate limiter. Without it
	// coupons are read from PostgreSQL and limits are per replica.
	var (
		coupons     coupon.Repository = couponRepo
		invalidator coupon.UsageInvalidator
		limiter     httpmiddleware.Limiter
		window      *httpmiddleware.SlidingWindow
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		couponCache := cache.NewCouponCache(couponRepo, rdb, cfg.CouponCacheTTL)
		coupons, invalidator = couponCache, couponCache
		limiter = cache.NewFixedWindow(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		healthSvc.Register(health.Readiness, health.Check{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Func: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		lg.Info("Redis enabled", zap.Duration("coupon_cache_ttl", cfg.CouponCacheTTL))
	} else {
		window = httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		limiter = window
	}

	// Domain services.
	evaluator := coupon.NewEvaluator(coupons, orderRepo, coupon.WithTracerProvider(m.TracerProvider()))
	ledger, err := coupon.NewLedger(couponRepo, invalidator, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create ledger")
	}
	analytics := coupon.NewAnalytics(coupons, couponRepo, couponRepo)
	orderService := order.NewService(pricing, productRepo, evaluator, ledger, orderRepo)

	// HTTP handlers.
	h, err := handler.New(handler.Options{
		Config: handler.Config{
			ImageBaseURL: cfg.ImageBaseURL,
			Currency:     cfg.Checkout.Currency,
		},
		Products:      productRepo,
		Coupons:       evaluator,
		Attempts:      couponRepo,
		Analytics:     analytics,
		Orders:        orderService,
		Auth:          auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}
	router := h.Router(
		httpmiddleware.LogRequests(handler.RoutePattern),
		httpmiddleware.Labeler(handler.RoutePattern),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("storefront-api", m),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-API-Key", "api_key", httpmiddleware.RequestIDHeader, httpmiddleware.CorrelationIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				Limiter: limiter,
			}),
		),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(ctx, healthInterval)
	})
	if window != nil {
		g.Go(func() error { return window.Run(ctx) })
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: stop advertising readiness, let load balancers
	// notice, then drain in-flight requests.
	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}
