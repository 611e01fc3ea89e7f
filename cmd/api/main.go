package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"contractorflow/collab"
	"contractorflow/config"
	"contractorflow/contract"
	"contractorflow/contractor"
	"contractorflow/db"
	"contractorflow/offboarding"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	renderer := collab.NewTemplateRenderer()
	store := collab.NewDirStore(cfg.DocumentDir)
	notifier := collab.NewLogNotifier(logger)

	contractors := contractor.NewRepository()

	contractService := contract.NewService(pool, nil, contractors, renderer, store, notifier, logger).
		WithBucket(cfg.DocumentBucket)
	offboardingService := offboarding.NewService(pool, nil, contractors, renderer, store, notifier, logger).
		WithBucket(cfg.DocumentBucket)

	logger.Info("workflow services ready",
		zap.Bool("contracts", contractService != nil),
		zap.Bool("offboarding", offboardingService != nil),
		zap.String("environment", cfg.Environment))
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
