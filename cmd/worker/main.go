package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/database"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
	"github.com/qs3c/experience_billing/internal/pkg/cron"
	"github.com/qs3c/experience_billing/internal/pkg/logger"
	"github.com/qs3c/experience_billing/internal/service"
	"github.com/qs3c/experience_billing/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using environment")
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		zl.Fatal("database connection failed", zap.Error(err))
	}
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zl.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	svc := service.New(db, rdb, cfg, service.Providers{
		Card:             cardbilling.NewStripeGateway(cfg.Card),
		Platform:         appstore.NewClient(cfg.Platform),
		PlatformPassword: cfg.Platform.Password,
	}, zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zl.Info("shutdown signal received")
		cancel()
	}()

	sweeps := cron.NewService(svc.Scheduler, cfg.Scheduler, zl.Named("cron"))
	if err := sweeps.Start(); err != nil {
		zl.Fatal("cron start failed", zap.Error(err))
	}

	processor := worker.NewProcessor(svc.Subscriptions, svc.Scheduler, cfg.Queue, zl.Named("worker"))
	pool := worker.NewPool(svc.Queue, processor, cfg.Queue.MaxWorkers, zl.Named("worker"))
	zl.Info("worker started", zap.Int("workers", cfg.Queue.MaxWorkers))
	pool.Run(ctx)

	<-sweeps.Stop().Done()
	zl.Info("worker shutdown complete")
}
