package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/harborlight/companion/internal/card_generator"
	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/card_updater"
	"github.com/harborlight/companion/internal/cards"
	appconfig "github.com/harborlight/companion/internal/config"
	"github.com/harborlight/companion/internal/context_assembler"
	"github.com/harborlight/companion/internal/entity_detector"
	"github.com/harborlight/companion/internal/friendship_analyzer"
	"github.com/harborlight/companion/internal/llm_client"
	"github.com/harborlight/companion/internal/memory_service"
	"github.com/harborlight/companion/internal/persistence"
	"github.com/harborlight/companion/internal/server"
	"github.com/harborlight/companion/pkg/health"
	"github.com/harborlight/companion/pkg/health/checkers"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
	"github.com/harborlight/companion/pkg/retry"
)

func main() {
	// .env is optional, real deployments configure via the environment
	_ = godotenv.Load()

	cfg, err := appconfig.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger(logger.Config{
		Level:   logger.ParseLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})
	cfg.ApplyFallbacks(appLogger)

	appLogger.Info("Starting companion memory service",
		logger.StringField("version", cfg.Version),
		logger.StringField("environment", cfg.Environment),
	)

	ctx := context.Background()

	pool, err := persistence.Connect(ctx, cfg.Database.GetConnectionString(), appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to database", logger.ErrorField(err))
		os.Exit(1)
	}
	defer pool.Close()

	migrator := persistence.NewMigrationManager(pool, appLogger)
	if err := migrator.RunMigrations(); err != nil {
		appLogger.Error("Failed to run migrations", logger.ErrorField(err))
		os.Exit(1)
	}

	store := persistence.NewStore(pool, appLogger)

	completer, err := llm_client.New(llm_client.Config{
		Provider: strings.ToLower(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to create LLM client", logger.ErrorField(err))
		os.Exit(1)
	}

	m := metrics.NewMetrics(true, true, appLogger)

	clock := cards.SystemClock{}
	tracker := card_metadata.NewTracker(clock)

	retryPolicy := retry.Policy{
		MaxAttempts:    cfg.LLM.MaxRetries,
		InitialBackoff: cfg.LLM.RetryDelay,
		MaxBackoff:     cfg.LLM.RetryDelay,
	}

	detector := entity_detector.New(store, entity_detector.Config{}, appLogger)
	assembler := context_assembler.New(store, context_assembler.Config{
		RecentSessionLimit: cfg.Memory.RecentCardSessionLimit,
		MentionScanLimit:   cfg.Memory.MentionScanLimit,
	}, appLogger)
	generator := card_generator.New(completer, tracker, store, &m, retryPolicy, appLogger)
	updater := card_updater.New(store, completer, generator, tracker, &m, card_updater.Config{
		BatchConfidenceThreshold: cfg.Memory.BatchConfidenceThreshold,
		FieldConfidenceThreshold: cfg.Memory.FieldConfidenceThreshold,
	}, appLogger)
	analyzer := friendship_analyzer.New(completer, store, &m, retryPolicy, appLogger)

	service := memory_service.New(detector, assembler, updater, analyzer,
		tracker, store, clock, &m, appLogger)

	checker := health.New(
		health.WithLogger(appLogger),
		health.WithTimeout(5*time.Second),
	)
	checker.AddReadinessCheck(checkers.NewPostgresChecker(pool, "postgres"))

	srv := server.New(cfg, service, store, checker, &m, appLogger)
	if err := srv.Run(ctx); err != nil {
		appLogger.Error("Server exited with error", logger.ErrorField(err))
		os.Exit(1)
	}
}
