package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/repository"
)

type catalogJSON struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
	Sizes map[string]int `json:"sizes"`
	Stock int            `json:"stock"`
}

type couponJSON struct {
	Code                  string          `json:"code"`
	Description           string          `json:"description"`
	DiscountType          string          `json:"discountType"`
	DiscountValue         decimal.Decimal `json:"discountValue"`
	MinimumOrderAmount    decimal.Decimal `json:"minimumOrderAmount"`
	MaximumDiscountAmount decimal.Decimal `json:"maximumDiscountAmount"`
	UsageLimit            int             `json:"usageLimit"`
	ValidDays             int             `json:"validDays"`
	CouponType            string          `json:"couponType"`
	ApplicableCategories  []string        `json:"applicableCategories"`
	ExcludedCategories    []string        `json:"excludedCategories"`
	FirstTimeUserOnly     bool            `json:"firstTimeUserOnly"`
	MinimumPurchaseItems  int             `json:"minimumPurchaseItems"`
	MaximumUsagePerUser   int             `json:"maximumUsagePerUser"`
	Stackable             bool            `json:"stackable"`
	Priority              int             `json:"priority"`
}

func (c couponJSON) toCoupon(now time.Time) coupon.Coupon {
	return coupon.Coupon{
		Code:                  c.Code,
		Description:           c.Description,
		DiscountType:          coupon.DiscountType(c.DiscountType),
		DiscountValue:         c.DiscountValue,
		MinimumOrderAmount:    c.MinimumOrderAmount,
		MaximumDiscountAmount: c.MaximumDiscountAmount,
		UsageLimit:            c.UsageLimit,
		ValidFrom:             now,
		ValidUntil:            now.AddDate(0, 0, c.ValidDays),
		IsActive:              true,
		ApplicableCategories:  c.ApplicableCategories,
		ExcludedCategories:    c.ExcludedCategories,
		CouponType:            coupon.Type(c.CouponType),
		FirstTimeUserOnly:     c.FirstTimeUserOnly,
		MinimumPurchaseItems:  c.MinimumPurchaseItems,
		MaximumUsagePerUser:   c.MaximumUsagePerUser,
		Stackable:             c.Stackable,
		Priority:              c.Priority,
	}
}

// seedKey is an API key to create, with the scopes it grants.
type seedKey struct {
	id, name, raw string
	scopes        []string
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		ordersKey    string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&ordersKey, "orders-key", "", "API key for order completion (or STOREFRONT_SEED_ORDERS_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "API key for coupon analytics (or STOREFRONT_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if ordersKey == "" {
		ordersKey = os.Getenv("STOREFRONT_SEED_ORDERS_KEY")
	}
	if adminKey == "" {
		adminKey = os.Getenv("STOREFRONT_SEED_ADMIN_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}

	var keys []seedKey
	if ordersKey != "" {
		keys = append(keys, seedKey{id: "payments", name: "Payment webhook", raw: ordersKey, scopes: []string{auth.ScopeOrders}})
	}
	if adminKey != "" {
		keys = append(keys, seedKey{id: "admin", name: "Coupon admin", raw: adminKey, scopes: []string{auth.ScopeAnalytics}})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, keys, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, keys []seedKey, pepper []byte) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.WithApplicationName("storefront-seed"))
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), catalog.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, repository.NewCouponRepository(pool), catalog.Coupons, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKeys(ctx, repository.NewAPIKeyRepository(pool), keys, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, products []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Category: p.Category,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
			Sizes: p.Sizes,
			Stock: p.Stock,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository, coupons []couponJSON, now time.Time) error {
	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		id, err := repo.Upsert(ctx, c.toCoupon(now))
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("id", id), slog.String("code", c.Code))
	}

	return nil
}

func seedAPIKeys(ctx context.Context, repo *repository.APIKeyRepository, keys []seedKey, pepper []byte) error {
	if len(keys) == 0 {
		slog.Warn("no API keys given, order completion and analytics will be unreachable")
		return nil
	}

	for _, k := range keys {
		if err := repo.Upsert(ctx, auth.APIKeyInfo{
			ID:      k.id,
			KeyHash: auth.HashKey(pepper, k.raw),
			Name:    k.name,
			Scopes:  k.scopes,
		}); err != nil {
			return errors.Wrapf(err, "upsert api key %s", k.id)
		}

		slog.Info("upserted API key", slog.String("id", k.id), slog.Any("scopes", k.scopes))
	}

	return nil
}
