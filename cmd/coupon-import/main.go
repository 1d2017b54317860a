// Command coupon-import cross-checks partner campaign code lists and imports
// the codes that appear in enough of them as single-use coupons.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/repository"
)

// couponWriter is the subset of the coupon repository used by the import.
type couponWriter interface {
	Upsert(ctx context.Context, c coupon.Coupon) (string, error)
}

func main() {
	var (
		pattern       string
		databaseURL   string
		minFiles      int
		discountType  string
		discountValue string
		minOrder      string
		validDays     int
		usageLimit    int
		description   string
		dryRun        bool
	)

	flag.StringVar(&pattern, "files", "data/campaign*.gz", "glob of gzip code lists, one code per line")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minFiles, "min-files", 2, "number of lists a code must appear in")
	flag.StringVar(&discountType, "discount-type", string(coupon.DiscountPercentage), "percentage, fixed or free_shipping")
	flag.StringVar(&discountValue, "discount-value", "10", "discount value")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order amount")
	flag.IntVar(&validDays, "valid-days", 30, "days the imported coupons stay valid")
	flag.IntVar(&usageLimit, "usage-limit", 1, "global usage limit per code, 0 for unlimited")
	flag.StringVar(&description, "description", "Partner campaign code", "coupon description")
	flag.BoolVar(&dryRun, "dry-run", false, "only report the matching codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	value, err := decimal.NewFromString(discountValue)
	if err != nil {
		slog.Error("invalid discount value", slog.String("error", err.Error()))
		os.Exit(1)
	}
	minimum, err := decimal.NewFromString(minOrder)
	if err != nil {
		slog.Error("invalid minimum order amount", slog.String("error", err.Error()))
		os.Exit(1)
	}

	now := time.Now().UTC()
	template := coupon.Coupon{
		Description:        description,
		DiscountType:       coupon.DiscountType(discountType),
		DiscountValue:      value,
		MinimumOrderAmount: minimum,
		UsageLimit:         usageLimit,
		ValidFrom:          now,
		ValidUntil:         now.AddDate(0, 0, validDays),
		IsActive:           true,
		CouponType:         coupon.TypeFlashSale,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := scanConfig{
		capacity:      120_000_000,
		fpr:           0.001,
		minCodeLen:    6,
		maxCodeLen:    32,
		minFiles:      minFiles,
		progressEvery: 10_000_000,
	}
	if err := run(ctx, cfg, pattern, databaseURL, template, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, cfg scanConfig, pattern, databaseURL string, template coupon.Coupon, dryRun bool) error {
	sample := template
	sample.Code = "SAMPLE"
	if err := sample.Validate(); err != nil {
		return errors.Wrap(err, "coupon template")
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "expand file pattern")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	slog.Info("scanning code lists", slog.Int("files", len(files)), slog.Int("min_files", cfg.minFiles))

	codes, err := findValidCodes(ctx, cfg, files)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 || dryRun {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.WithApplicationName("storefront-coupon-import"))
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, repository.NewCouponRepository(pool), template, codes); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}
	return nil
}

// writeCoupons upserts one coupon per code from the template. Re-running the
// import refreshes definitions and keeps usage counters.
func writeCoupons(ctx context.Context, w couponWriter, template coupon.Coupon, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for i, code := range codes {
		c := template
		c.Code = code
		if _, err := w.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return nil
}
