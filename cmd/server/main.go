package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/api"
	"github.com/qs3c/experience_billing/internal/api/handler"
	"github.com/qs3c/experience_billing/internal/database"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
	"github.com/qs3c/experience_billing/internal/pkg/logger"
	"github.com/qs3c/experience_billing/internal/service"
)

var migrate = flag.Bool("migrate", false, "Create or update tables before serving")

func main() {
	flag.Parse()

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
	if *migrate {
		if err := database.Migrate(db); err != nil {
			zl.Fatal("migration failed", zap.Error(err))
		}
		zl.Info("schema migrated")
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

	router := api.NewRouter(
		handler.NewSubscriptionHandler(svc.Subscriptions, zl),
		handler.NewBalanceHandler(svc.Balances, zl),
		handler.NewRecognitionHandler(svc.Usage, zl),
		handler.NewWebhookHandler(svc.Subscriptions, zl),
		cfg,
		zl.Named("http"),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zl.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
	zl.Info("server stopped")
}
