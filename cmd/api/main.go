package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // resource timezones on hosts without zoneinfo

	"slotdesk/internal/api"
	"slotdesk/internal/config"
	"slotdesk/internal/database"
	"slotdesk/internal/database/postgres"
	"slotdesk/internal/domain"
	"slotdesk/internal/events"
	"slotdesk/internal/export"
	"slotdesk/internal/locking"
	"slotdesk/internal/logging"
	"slotdesk/internal/metrics"
	"slotdesk/internal/models"
	"slotdesk/internal/notify"
	"slotdesk/internal/service"
	"slotdesk/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// storage is what both backends provide.
type storage interface {
	domain.Repository
	domain.ResourceRepository
	domain.NotificationQueue
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("create export directory")
		return err
	}

	store, sqliteDB, closeStore, err := openStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer closeStore()

	resources := service.NewResourceService(store, &logger)
	if err := resources.Seed(ctx, cfg.Resources); err != nil {
		logger.Error().Err(err).Msg("seed resources")
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = locking.Close(redisClient) }()
	}
	locker := newLocker(cfg, redisClient, &logger)

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.Wildcard, func(e *events.Event) error {
		logger.Debug().Str("event_type", e.Type).Msg("booking event")
		return nil
	})

	var notifier domain.Notifier
	var notificationWorker *worker.NotificationWorker
	if cfg.Notifications.Enabled {
		notificationWorker = worker.NewNotificationWorker(
			store,
			buildSenders(ctx, cfg, &logger),
			resources,
			redisClient,
			worker.RetryPolicyFromConfig(cfg.Notifications.Retry),
			cfg.Notifications.PollInterval,
			&logger,
		)
		notifier = notificationWorker
		go notificationWorker.Start(ctx)
	}

	scheduler := service.NewScheduler(store, locker, notifier, eventBus, schedulerOptions(cfg), &logger)

	if notifier != nil {
		if err := startReminders(ctx, cfg, store, notifier, &logger); err != nil {
			return err
		}
	}

	if cfg.Backup.Enabled {
		if sqliteDB == nil {
			logger.Warn().Msg("backups are only supported for sqlite, skipping")
		} else {
			backupService := database.NewBackupService(sqliteDB, cfg.Backup, &logger)
			go backupService.Start(ctx)
		}
	}

	startMetrics(ctx, cfg, &logger)

	exporter := export.NewExporter(scheduler, resources, cfg.Exports.Path, &logger)
	httpServer := api.NewHTTPServer(cfg.API, scheduler, resources, exporter, &logger)

	return serve(ctx, httpServer, cfg, &logger)
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
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// openStore returns the sqlite handle too, backups need the file.
func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage, *database.DB, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, store, err := postgres.Connect(ctx, cfg.Database.Postgres.DSN(), logger)
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init postgres")
			return nil, nil, nil, err
		}
		return store, nil, pool.Close, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, nil, err
		}
		return db, db, func() { _ = db.Close() }, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := locking.NewRedisClient(cfg.Redis)
	if err := locking.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// newLocker prefers redis so several instances share locks; the in-process
// locker takes over while redis is unreachable.
func newLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.Locker {
	wait := cfg.Scheduling.LockTTL
	memory := locking.NewMemoryLocker(wait)
	if redisClient == nil {
		return memory
	}
	return locking.NewFailoverLocker(locking.NewRedisLocker(redisClient, cfg.Scheduling.LockTTL, wait), memory, logger)
}

func buildSenders(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) []notify.Sender {
	var senders []notify.Sender
	n := cfg.Notifications

	if n.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(n.WebhookURL, n.WebhookSecret, n.WebhookTimeout))
	}

	if n.TelegramToken != "" {
		bot, err := notify.NewTelegramBot(n.TelegramToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		} else {
			senders = append(senders, notify.NewTelegramSender(bot, n.TelegramChatID))
		}
	}

	if gs := n.GoogleSheets; gs.SpreadsheetID != "" {
		sheetsSender, err := notify.NewSheetsSender(ctx, gs.CredentialsFile, gs.SpreadsheetID, gs.Sheet)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			senders = append(senders, sheetsSender)
		}
	}

	if len(senders) == 0 {
		logger.Warn().Msg("notifications enabled but no sender configured")
	}
	return senders
}

func schedulerOptions(cfg *config.Config) service.SchedulerOptions {
	prefixes := make(map[models.ResourceKind]string, len(cfg.Scheduling.ReferencePrefixes))
	for _, kind := range []models.ResourceKind{models.ResourceService, models.ResourceAgent} {
		if p := cfg.Scheduling.PrefixFor(kind); p != "" {
			prefixes[kind] = p
		}
	}
	return service.SchedulerOptions{
		SameDayAllowed:        cfg.Scheduling.SameDayAllowed,
		CompletionRequiresEnd: cfg.Scheduling.CompletionRequiresEnd,
		ReferencePrefixes:     prefixes,
	}
}

func startReminders(ctx context.Context, cfg *config.Config, repo domain.Repository, notifier domain.Notifier, logger *zerolog.Logger) error {
	loc, err := cfg.Scheduling.Location()
	if err != nil {
		return err
	}
	reminders, err := service.NewReminderService(repo, notifier, cfg.Scheduling.ReminderTime, loc, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init reminders")
		return err
	}
	go reminders.Start(ctx)
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

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			logger.Warn().Msg("HTTP API is disabled in config")
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("driver", cfg.Database.Driver).Msg("slotdesk started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("slotdesk stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
