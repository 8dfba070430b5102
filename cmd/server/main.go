package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"cashflow-suite/settings/internal/api"
	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/config"
	"cashflow-suite/settings/internal/db"
	"cashflow-suite/settings/internal/jobs"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
	"cashflow-suite/settings/internal/routes"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Init(cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	logging.Info("Settings service starting up",
		"environment", cfg.AppEnv,
		"version", cfg.Version,
		"timestamp", time.Now().Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.InitPostgresORM(cfg.Postgres)
	if err != nil {
		logging.Fatal("Failed to connect to Postgres", "error", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := db.Migrate(gdb); err != nil {
			logging.Fatal("Failed to migrate database", "error", err)
		}
	}
	sqlDB, err := db.NewSQLX(gdb)
	if err != nil {
		logging.Fatal("Failed to open sqlx handle", "error", err)
	}
	defer sqlDB.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = common.NewRedisClient(cfg.Redis)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	metricsReg := metrics.NewMetricsRegistry(registry)

	deps, err := api.InitDependencies(ctx, api.Options{
		Config:  cfg,
		DB:      gdb,
		SQL:     sqlDB,
		Redis:   redisClient,
		Metrics: metricsReg,
	})
	if err != nil {
		logging.Fatal("Failed to initialize dependencies", "error", err)
	}
	defer deps.Close()

	scheduler, _, err := jobs.InitializeJobs(ctx, cfg.Settings.ReverifySchedule, deps.Services.Gateway, deps.Services.Store, metricsReg)
	if err != nil {
		logging.Fatal("Failed to initialize jobs", "error", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes.RegisterRoutes(deps, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Server starting", "addr", cfg.HTTPAddr, "environment", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down", "timeout", cfg.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown failed", "error", err)
	}

	// Wait for a running re-verification to finish.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logging.Warn("Re-verification still running at shutdown")
	}
}
