package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"karavan/internal/api"
	"karavan/internal/config"
	"karavan/internal/database"
	"karavan/internal/events"
	"karavan/internal/export"
	"karavan/internal/fetch"
	"karavan/internal/google"
	"karavan/internal/logging"
	"karavan/internal/metrics"
	"karavan/internal/notify"
	"karavan/internal/pipeline"
	"karavan/internal/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewEventBus()
	registerNotifiers(cfg, bus, redisClient, &logger)

	sheetsSource := initSheetsSource(cfg, &logger)
	fetcher := fetch.NewFetcher(cfg.Import.MaxRedirects, &logger)

	var sheets pipeline.SheetFetcher
	if sheetsSource != nil {
		sheets = sheetsSource
	}
	runner := pipeline.NewRunner(db, fetcher, sheets, bus, cfg.Import, &logger)

	sched := scheduler.New(db, runner, &logger)
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedJobs(ctx, sched, db, &logger); err != nil {
		return err
	}
	if err := sched.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("startup recovery failed")
		return err
	}

	if cfg.Database.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, cfg.Database.Backup, &logger)
		go backup.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	reports := export.NewReportWriter(db, cfg.Exports.Path, &logger)
	httpServer := api.NewHTTPServer(cfg.API, sched, db, reports, &logger)

	return serve(ctx, cfg, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "scheduler-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func registerNotifiers(cfg *config.Config, bus *events.EventBus, redisClient *redis.Client, logger *zerolog.Logger) {
	var notifiers []notify.Notifier

	if redisClient != nil {
		notifiers = append(notifiers, notify.NewRedisNotifier(redisClient, cfg.Redis.EventKey))
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram notifications")
		} else {
			notifiers = append(notifiers, notify.NewTelegramNotifier(botAPI, cfg.Telegram.ChatID))
			logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("telegram notifications enabled")
		}
	}

	if len(notifiers) > 0 {
		notify.Register(bus, logger, notifiers...)
	}
}

func initSheetsSource(cfg *config.Config, logger *zerolog.Logger) *google.SheetsSource {
	if cfg.Google.CredentialsFile == "" {
		return nil
	}

	source, err := google.NewSheetsSource(cfg.Google.CredentialsFile, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing with HTTP fetch only")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return source
}

// seedJobs schedules jobs declared in an optional YAML file, skipping names
// the owner already has. Lets a fresh deployment start with a known set.
func seedJobs(ctx context.Context, sched *scheduler.Scheduler, db *database.DB, logger *zerolog.Logger) error {
	jobsPath := os.Getenv("JOBS_PATH")
	if jobsPath == "" {
		return nil
	}

	data, err := os.ReadFile(jobsPath)
	if err != nil {
		logger.Error().Err(err).Str("jobs_path", jobsPath).Msg("read seed jobs")
		return err
	}

	var seedConfig struct {
		Jobs []struct {
			OwnerID     string `yaml:"owner_id"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
			Cron        string `yaml:"cron"`
			SourceURL   string `yaml:"source_url"`
		} `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(data, &seedConfig); err != nil {
		logger.Error().Err(err).Str("jobs_path", jobsPath).Msg("parse seed jobs")
		return err
	}

	for _, seed := range seedConfig.Jobs {
		ownerID := seed.OwnerID
		if ownerID == "" {
			ownerID = "default"
		}

		existing, err := db.ListJobs(ctx, ownerID)
		if err != nil {
			return err
		}
		known := false
		for _, job := range existing {
			if job.Name == seed.Name {
				known = true
				break
			}
		}
		if known {
			continue
		}

		if _, err := sched.Schedule(ctx, ownerID, scheduler.ScheduleRequest{
			Name:        seed.Name,
			Description: seed.Description,
			CronExpr:    seed.Cron,
			SourceURL:   seed.SourceURL,
		}); err != nil {
			logger.Error().Err(err).Str("job_name", seed.Name).Msg("seed job failed")
			return err
		}
		logger.Info().Str("job_name", seed.Name).Str("owner_id", ownerID).Msg("seed job scheduled")
	}

	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func serve(ctx context.Context, cfg *config.Config, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("scheduler started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("scheduler stopped")
	return nil
}
