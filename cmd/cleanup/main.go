package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/database"
	"github.com/qs3c/experience_billing/internal/pkg/logger"
	"github.com/qs3c/experience_billing/internal/pkg/queue"
	"github.com/qs3c/experience_billing/internal/service"
)

var (
	purgePending = flag.Bool("purge-pending", true, "Delete PENDING subscriptions that were never confirmed")
	requeueStale = flag.Bool("requeue-stale", true, "Hand out dispatched jobs that no worker finished")
	dispatchDue  = flag.Bool("dispatch", false, "Push due jobs to the queue once")
)

// cleanup runs the scheduler sweeps once, for deployments without the worker's cron.
func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using environment")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
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

	scheduler := service.NewScheduler(db, queue.NewQueue(rdb, cfg.Queue.JobQueue), cfg.Scheduler, zl.Named("scheduler"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	failed := false
	if *requeueStale {
		n, err := scheduler.RequeueStale(ctx, time.Duration(cfg.Scheduler.StaleDispatchMinutes)*time.Minute)
		if err != nil {
			zl.Error("requeue stale jobs failed", zap.Error(err))
			failed = true
		} else {
			zl.Info("stale jobs requeued", zap.Int64("count", n))
		}
	}
	if *purgePending {
		n, err := scheduler.PurgeAbandonedPending(ctx)
		if err != nil {
			zl.Error("purge abandoned pending failed", zap.Error(err))
			failed = true
		} else {
			zl.Info("abandoned pending subscriptions purged", zap.Int64("count", n))
		}
	}
	if *dispatchDue {
		n, err := scheduler.DispatchDue(ctx)
		if err != nil {
			zl.Error("dispatch due jobs failed", zap.Error(err))
			failed = true
		} else {
			zl.Info("due jobs dispatched", zap.Int("count", n))
		}
	}

	if failed {
		os.Exit(1)
	}
}
