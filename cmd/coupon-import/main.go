// Command coupon-import bulk-loads promotion codes from gzipped code lists.
// A code is imported when it appears in at least --quorum of the given files.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/storage/postgres"
)

const importBatch = 5_000

func main() {
	var (
		databaseURL string
		quorum      int
		rule        ruleFlags
		scan        scanConfig
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&quorum, "quorum", 2, "minimum number of files a code must appear in")
	flag.IntVar(&scan.minLen, "min-len", 8, "shortest accepted code")
	flag.IntVar(&scan.maxLen, "max-len", 10, "longest accepted code")
	flag.UintVar(&scan.capacity, "bloom-capacity", 120_000_000, "expected codes per file")
	flag.StringVar(&rule.kind, "type", string(coupon.DiscountPercentage), "discount type: percentage or fixed")
	flag.StringVar(&rule.value, "value", "10", "discount value")
	flag.StringVar(&rule.description, "description", "Promo code", "coupon description")
	flag.IntVar(&rule.limit, "usage-limit", 0, "uses per code, 0 for unlimited")
	flag.StringVar(&rule.minPurchase, "min-purchase", "0", "minimum order amount")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, flag.Args(), quorum, rule, scan); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed")
}

func run(
	ctx context.Context,
	lg *zap.Logger,
	databaseURL string,
	patterns []string,
	quorum int,
	rule ruleFlags,
	scan scanConfig,
) error {
	if databaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	template, err := rule.template()
	if err != nil {
		return err
	}
	files, err := expandFiles(patterns)
	if err != nil {
		return err
	}
	if quorum < 1 || quorum > len(files) {
		return errors.Errorf("quorum %d out of range for %d files", quorum, len(files))
	}
	scan.lg = lg

	codes, err := scan.findCodes(ctx, files, quorum)
	if err != nil {
		return errors.Wrap(err, "scan files")
	}
	lg.Info("Codes reached quorum", zap.Int("count", len(codes)), zap.Int("quorum", quorum))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	var created int64
	for chunk := range slices.Chunk(codes, importBatch) {
		n, err := repo.Import(ctx, template, chunk)
		if err != nil {
			return errors.Wrap(err, "import coupons")
		}
		created += n
		lg.Info("Import progress", zap.Int64("created", created), zap.Int("total", len(codes)))
	}
	lg.Info("Imported coupons",
		zap.Int64("created", created),
		zap.Int64("existing", int64(len(codes))-created),
	)
	return nil
}

// expandFiles resolves glob patterns into a sorted, de-duplicated file list.
func expandFiles(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, errors.New("no input files given")
	}
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, errors.Wrapf(err, "pattern %q", p)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("no files match %q", p)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files are supported, got %d", maxFiles, len(files))
	}
	return files, nil
}

type ruleFlags struct {
	kind        string
	value       string
	description string
	limit       int
	minPurchase string
}

// template builds the coupon every imported code is created from.
func (f ruleFlags) template() (coupon.Coupon, error) {
	value, err := decimal.NewFromString(f.value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse --value")
	}
	minPurchase, err := decimal.NewFromString(f.minPurchase)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse --min-purchase")
	}
	c := coupon.Coupon{
		Code:        "TEMPLATE",
		Type:        coupon.DiscountType(f.kind),
		Value:       value,
		Description: f.description,
		MinPurchase: minPurchase,
		Active:      true,
	}
	if f.limit > 0 {
		c.UsageLimit = &f.limit
	}
	if err := coupon.Validate(&c); err != nil {
		return coupon.Coupon{}, err
	}
	c.Code = ""
	return c, nil
}
