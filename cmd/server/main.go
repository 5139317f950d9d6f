package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/analytics"
	"github.com/patrickwarner/promoserve/internal/api"
	"github.com/patrickwarner/promoserve/internal/catalog"
	"github.com/patrickwarner/promoserve/internal/config"
	"github.com/patrickwarner/promoserve/internal/db"
	"github.com/patrickwarner/promoserve/internal/directory"
	"github.com/patrickwarner/promoserve/internal/lifecycle"
	"github.com/patrickwarner/promoserve/internal/middleware"
	"github.com/patrickwarner/promoserve/internal/observability"
	"github.com/patrickwarner/promoserve/internal/revenue"
	"github.com/patrickwarner/promoserve/internal/rotation"
	"github.com/patrickwarner/promoserve/internal/store"
	"github.com/patrickwarner/promoserve/internal/sweeper"
	"github.com/patrickwarner/promoserve/internal/tracking"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TracingEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdownTracing()
	}

	pg, err := store.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	if err := pg.SeedTiers(ctx, catalog.Defaults()); err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}
	tiers, err := pg.LoadTiers(ctx)
	if err != nil {
		return fmt.Errorf("load tiers: %w", err)
	}
	cat, err := catalog.New(tiers)
	if err != nil {
		return fmt.Errorf("build tier catalog: %w", err)
	}

	counters, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer counters.Close()

	audit, err := analytics.InitClickHouse(cfg.ClickHouseDSN)
	if err != nil {
		return fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	defer audit.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	manager := lifecycle.NewManager(pg, cat, logger, metricsRegistry)
	selector := rotation.NewRandomSelector(pg)
	tracker := tracking.NewTracker(pg, cat, counters, audit, logger)
	sweep := sweeper.New(pg, logger, metricsRegistry)
	aggregator := revenue.NewAggregator(pg)
	payDir := directory.Parse(cfg.PaymentNumbers)

	srvDeps := api.NewServer(logger, pg, cat, manager, selector, tracker, sweep, aggregator, payDir, metricsRegistry)

	r := mux.NewRouter()
	r.HandleFunc("/requests", srvDeps.CreateRequestHandler).Methods("POST")
	r.HandleFunc("/requests", srvDeps.ListRequestsHandler).Methods("GET")
	r.HandleFunc("/requests/{id}", srvDeps.GetRequestHandler).Methods("GET")
	r.HandleFunc("/requests/{id}/approve", srvDeps.ApproveRequestHandler).Methods("POST")
	r.HandleFunc("/requests/{id}/reject", srvDeps.RejectRequestHandler).Methods("POST")

	r.HandleFunc("/rotation/{key}", srvDeps.RotationHandler).Methods("GET")

	r.HandleFunc("/entries/{id}", srvDeps.GetEntryHandler).Methods("GET")
	r.HandleFunc("/entries/{id}/impression", srvDeps.ImpressionHandler).Methods("POST")
	r.HandleFunc("/entries/{id}/click", srvDeps.ClickHandler).Methods("POST")
	r.HandleFunc("/entries/{id}/stats", srvDeps.StatsHandler).Methods("GET")

	r.HandleFunc("/sweep", srvDeps.SweepHandler).Methods("POST")
	r.HandleFunc("/revenue", srvDeps.RevenueHandler).Methods("GET")
	r.HandleFunc("/tiers", srvDeps.TiersHandler).Methods("GET")
	r.HandleFunc("/payment-numbers", srvDeps.PaymentNumbersHandler).Methods("GET")
	r.HandleFunc("/health", srvDeps.HealthHandler).Methods("GET")

	r.Handle("/metrics", promhttp.Handler())

	if err := sweep.Start(cfg.SweepInterval); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweep.Stop()

	var handler http.Handler = r
	handler = middleware.WithTraceLogger(logger)(handler)
	handler = otelhttp.NewHandler(handler, cfg.ServiceName)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("promotion server running", zap.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
