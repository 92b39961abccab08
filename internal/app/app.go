package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/order"
	"github.com/xenking/hosting-checkout/internal/domain/report"
	"github.com/xenking/hosting-checkout/internal/handler"
	"github.com/xenking/hosting-checkout/internal/storage/postgres"
	"github.com/xenking/hosting-checkout/pkg/health"
	"github.com/xenking/hosting-checkout/pkg/httpmiddleware"
)

// Run connects to Postgres, wires the checkout services into the HTTP API and
// serves it until ctx is cancelled.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Starting checkout API", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	planRepo := postgres.NewPlanRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderStore := postgres.NewOrderStore(pool)
	reportRepo := postgres.NewReportRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	orderService, err := order.NewService(planRepo, orderStore,
		order.WithTxTimeout(cfg.Checkout.TxTimeout),
		order.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(
		planRepo,
		orderService,
		coupon.NewEvaluator(couponRepo),
		coupon.NewAdmin(couponRepo),
		report.NewService(reportRepo),
	)
	sec := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper), []byte(cfg.JWTSecret))

	router := h.Routes(sec)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           middlewares(ctx, cfg, m, routeFinder, router),
	}
	return serve(ctx, lg, server, healthSvc, cfg.Graceful)
}

// serve runs server until ctx is done, then fails readiness, waits for load
// balancers to notice and drains in-flight requests.
func serve(ctx context.Context, lg *zap.Logger, server *http.Server, hs *health.Health, g GracefulConfig) error {
	hs.SetReady(true)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()

		hs.SetReady(false)
		lg.Info("Not ready, waiting before shutdown", zap.Duration("delay", g.ReadinessDelay))
		time.Sleep(g.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Shutdown", zap.Error(err))
		}
		hs.Stop()
	}()

	lg.Info("Listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	<-drained
	return nil
}

func middlewares(
	ctx context.Context,
	cfg *Config,
	m *app.Telemetry,
	routeFinder httpmiddleware.RouteFinder,
	router chi.Router,
) http.Handler {
	return httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("checkout-api", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
}
