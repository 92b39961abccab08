package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/auth"
	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/plan"
	"github.com/xenking/hosting-checkout/internal/handler"
	"github.com/xenking/hosting-checkout/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	apiKey       string
	apiKeyPepper string
	jwtSecret    string
	tokenUser    string
	tokenTTL     time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "JWT secret for --token-user (or SHOP_JWT_SECRET env)")
	flag.StringVar(&opts.tokenUser, "token-user", "", "print a customer token for this user ID")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	envDefault(&opts.databaseURL, "DATABASE_URL")
	envDefault(&opts.apiKey, "SHOP_SEED_API_KEY")
	envDefault(&opts.apiKeyPepper, "SHOP_API_KEY_PEPPER")
	envDefault(&opts.jwtSecret, "SHOP_JWT_SECRET")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func envDefault(v *string, key string) {
	if *v == "" {
		*v = os.Getenv(key)
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	switch {
	case opts.databaseURL == "":
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	case opts.apiKey == "":
		return errors.New("API key is required: set --api-key or SHOP_SEED_API_KEY")
	case opts.tokenUser != "" && opts.jwtSecret == "":
		return errors.New("--token-user needs --jwt-secret or SHOP_JWT_SECRET")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPlans(ctx, lg, postgres.NewPlanRepository(pool)); err != nil {
		return errors.Wrap(err, "seed plans")
	}
	if err := seedCoupons(ctx, lg, coupon.NewAdmin(postgres.NewCouponRepository(pool))); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	apikeys := postgres.NewAPIKeyRepository(pool)
	if err := apikeys.Save(ctx, auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: handler.HashAPIKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("id", "admin"))

	if opts.tokenUser == "" {
		return nil
	}
	sec := handler.NewSecurity(apikeys, []byte(opts.apiKeyPepper), []byte(opts.jwtSecret))
	token, err := sec.IssueToken(auth.User{ID: opts.tokenUser, Role: auth.RoleUser}, opts.tokenTTL)
	if err != nil {
		return errors.Wrap(err, "issue token")
	}
	fmt.Println(token)
	return nil
}

type planUpserter interface {
	Upsert(ctx context.Context, p *plan.Plan) error
}

func defaultPlans() []plan.Plan {
	return []plan.Plan{
		{Name: "Starter", Description: "Personal sites and side projects", CPU: 1, RAMMB: 1024, DiskGB: 25, Databases: 1, Backups: 1, PriceMonthly: decimal.RequireFromString("5.99")},
		{Name: "Basic", Description: "Small business sites", CPU: 2, RAMMB: 2048, DiskGB: 50, Databases: 2, Backups: 3, PriceMonthly: decimal.RequireFromString("12.99")},
		{Name: "Professional", Description: "Growing applications", CPU: 4, RAMMB: 8192, DiskGB: 160, Databases: 5, Backups: 7, PriceMonthly: decimal.RequireFromString("39.99")},
		{Name: "Enterprise", Description: "High traffic workloads", CPU: 8, RAMMB: 16384, DiskGB: 320, Databases: 10, Backups: 14, PriceMonthly: decimal.RequireFromString("79.99")},
		{Name: "Custom", Description: "Configure your own resources", Custom: true},
	}
}

func seedPlans(ctx context.Context, lg *zap.Logger, repo planUpserter) error {
	for _, p := range defaultPlans() {
		p.Active = true
		if err := repo.Upsert(ctx, &p); err != nil {
			return err
		}
		lg.Info("Upserted plan", zap.Int64("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}

func sampleCoupons() []coupon.Coupon {
	launchLimit := 100
	return []coupon.Coupon{
		{Code: "SAVE10", Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), Description: "10% off any plan"},
		{Code: "FLAT50", Type: coupon.DiscountFixed, Value: decimal.NewFromInt(50), Description: "50.00 off orders over 100.00", MinPurchase: decimal.NewFromInt(100)},
		{Code: "LAUNCH25", Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(25), Description: "Launch offer: 25% off, first 100 orders", UsageLimit: &launchLimit},
	}
}

// seedCoupons creates the sample coupons. Existing codes are left as they are
// so reseeding never resets usage.
func seedCoupons(ctx context.Context, lg *zap.Logger, admin *coupon.Admin) error {
	for _, c := range sampleCoupons() {
		c.Active = true
		err := admin.Save(ctx, &c)
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			lg.Info("Coupon exists, skipped", zap.String("code", c.Code))
		case err != nil:
			return err
		default:
			lg.Info("Created coupon", zap.Int64("id", c.ID), zap.String("code", c.Code))
		}
	}
	return nil
}
