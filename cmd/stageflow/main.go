package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/stageflow/internal/api"
	"github.com/p-blackswan/stageflow/internal/attach"
	"github.com/p-blackswan/stageflow/internal/config"
	"github.com/p-blackswan/stageflow/internal/health"
	"github.com/p-blackswan/stageflow/internal/metrics"
	"github.com/p-blackswan/stageflow/internal/notify"
	"github.com/p-blackswan/stageflow/internal/pipeline"
	"github.com/p-blackswan/stageflow/internal/store"
	"github.com/p-blackswan/stageflow/internal/workflow"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	loc, err := cfg.OrgLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid org timezone")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Str("org_timezone", cfg.OrgTimezone).
		Msg("starting stageflow")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Store
	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("db", func(ctx context.Context) health.Status {
		if err := st.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Metrics
	collector := metrics.New()

	// Attachment store
	attachments, err := attach.NewStore(cfg.UploadDir, cfg.UploadBaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init attachment store")
	}
	checker.Register("uploads", func(ctx context.Context) health.Status {
		if _, err := os.Stat(attachments.Dir()); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Notification bus
	var webhooks []string
	if cfg.NotifyWebhooks != "" {
		webhooks = strings.Split(cfg.NotifyWebhooks, ",")
	}
	bus := notify.NewBus(notify.Config{
		WebhookURLs: webhooks,
		Timeout:     cfg.NotifyTimeout,
		Retries:     cfg.NotifyRetries,
	}, collector, logger)

	// Workflow engine
	recorder := workflow.NewRecorder(st, logger)
	machine := workflow.NewMachine(st, recorder, attachments, bus, collector, logger)

	// Pipeline templates
	seeder, err := pipeline.NewSeeder(st, cfg.PipelineTemplatePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load pipeline templates")
	}

	// Auto-start scheduler
	scheduler := workflow.NewScheduler(st, machine, cfg.SchedulerInterval, loc, logger)

	// HTTP API
	handlers := api.NewHandlers(st, machine, seeder, checker, logger)
	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins:   cfg.CORSOrigins,
		TLSCert:       cfg.TLSCert,
		TLSKey:        cfg.TLSKey,
		UploadDir:     attachments.Dir(),
		UploadBaseURL: cfg.UploadBaseURL,
	}, handlers, collector, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("stageflow stopped")
}
