package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homedoc/consult-dispatch/internal/api"
	"github.com/homedoc/consult-dispatch/internal/config"
	"github.com/homedoc/consult-dispatch/internal/consultation"
	"github.com/homedoc/consult-dispatch/internal/db"
	"github.com/homedoc/consult-dispatch/internal/logging"
	"github.com/homedoc/consult-dispatch/internal/metrics"
	"github.com/homedoc/consult-dispatch/internal/notify"
	"github.com/homedoc/consult-dispatch/internal/payments"
	"github.com/homedoc/consult-dispatch/internal/presence"
	redisclient "github.com/homedoc/consult-dispatch/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("offer_ttl", cfg.OfferTTL),
		zap.Float64("search_radius_km", cfg.SearchRadiusKm))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	collector := metrics.NewCollector("api_server")

	repo := consultation.NewPgRepository(pgPool)
	presenceStore := presence.NewRedisStore(rdb)
	notifier := notify.NewRedisNotifier(rdb, log)
	locker := redisclient.NewRedisDispatchLocker(rdb, cfg.LockTTL)

	var gateway payments.Gateway
	if cfg.PaymentAPIBaseURL != "" {
		gateway = payments.NewHTTPGateway(cfg.PaymentAPIBaseURL)
		log.Info("payment gateway enabled", zap.String("base_url", cfg.PaymentAPIBaseURL))
	} else {
		gateway = payments.Disabled{}
		log.Warn("no payment gateway configured, completions will carry warnings")
	}

	svc := consultation.NewService(repo, presenceStore, notifier, gateway, locker, cfg, log, collector)
	defer svc.Close()

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    log,
		Collector: collector,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}

	log.Info("api-server stopped")
}
