// Command api-server serves the storefront API: catalog, coupon previews,
// checkout and coupon analytics.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	storefront "github.com/xenking/storefront/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := storefront.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Starting storefront",
			zap.String("addr", cfg.Addr),
			zap.Bool("redis", cfg.RedisURL != ""),
			zap.String("currency", cfg.Checkout.Currency),
		)
		return storefront.Run(ctx, lg, m, cfg)
	})
}
