package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homedoc/consult-dispatch/internal/config"
	"github.com/homedoc/consult-dispatch/internal/consultation"
	"github.com/homedoc/consult-dispatch/internal/db"
	"github.com/homedoc/consult-dispatch/internal/logging"
	"github.com/homedoc/consult-dispatch/internal/notify"
	"github.com/homedoc/consult-dispatch/internal/payments"
	"github.com/homedoc/consult-dispatch/internal/presence"
	redisclient "github.com/homedoc/consult-dispatch/internal/redis"
)

// The dispatch worker sweeps offers whose deadline passed without resolution.
// It backstops the in-process timers of the api-server, which are lost on
// restart.
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

	log.Info("dispatch-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

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

	repo := consultation.NewPgRepository(pgPool)
	presenceStore := presence.NewRedisStore(rdb)
	notifier := notify.NewRedisNotifier(rdb, log)
	locker := redisclient.NewRedisDispatchLocker(rdb, cfg.LockTTL)

	// The worker never completes visits, so it never needs a real gateway.
	svc := consultation.NewService(repo, presenceStore, notifier, payments.Disabled{}, locker, cfg, log, nil)
	defer svc.Close()

	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping dispatch worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *consultation.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpireOverdueOffers(runCtx); err != nil {
		log.Error("expiry sweep error", zap.Error(err))
		return
	}
	log.Info("expiry sweep complete", zap.Duration("elapsed", time.Since(start)))
}
