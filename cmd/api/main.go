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

	"vetclinic/internal/api"
	"vetclinic/internal/catalog"
	"vetclinic/internal/config"
	"vetclinic/internal/database"
	"vetclinic/internal/domain"
	"vetclinic/internal/events"
	"vetclinic/internal/logging"
	"vetclinic/internal/metrics"
	"vetclinic/internal/models"
	"vetclinic/internal/notify"
	"vetclinic/internal/repository"
	"vetclinic/internal/scheduling"
	"vetclinic/internal/service"
	"vetclinic/internal/worker"

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

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := initStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := seedDirectory(ctx, store, logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	locker, err := initLocker(cfg, redisClient)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus(logging.Component(logger, "events"))
	eventBus.Subscribe(events.AllEvents, events.AuditLogger(logging.Component(logger, "audit")))

	cat := catalog.New(cfg.Catalog)
	notifier, err := initNotifier(cfg, cat, loc, logger)
	if err != nil {
		return err
	}

	var reminders service.Reminders
	var scheduler *worker.ReminderScheduler
	if cfg.Reminders.Enabled {
		opts := []worker.ReminderOption{
			worker.WithStore(store),
			worker.WithBookings(store),
			worker.WithEvents(eventBus),
			worker.WithRetryPolicy(worker.RetryPolicyFromConfig(cfg.Reminders.Retry)),
		}
		if redisClient != nil {
			opts = append(opts, worker.WithDeadLetter(redisClient))
		}
		scheduler = worker.NewReminderScheduler(notifier, store, cfg.Reminders.LeadTime,
			logging.Component(logger, "reminders"), opts...)
		defer scheduler.Stop()

		restored, err := scheduler.Restore(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("restore reminder jobs")
		} else {
			logger.Info().Int("jobs", restored).Msg("reminder jobs restored")
		}
		reminders = scheduler
	}

	allocator := scheduling.NewAllocator(store, locker, loc, cfg.Scheduling.LockTimeout,
		logging.Component(logger, "allocator"))
	bookingService := service.NewBookingService(store, store, allocator, cat, reminders, eventBus,
		cfg.Scheduling.MaxBookingDays, logging.Component(logger, "bookings"))

	if cfg.Backup.Enabled {
		startBackups(ctx, cfg, store, logger)
	}

	startMetrics(ctx, cfg, logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}
	httpServer := api.NewHTTPServer(cfg.API, bookingService, store, logging.Component(logger, "http"))

	return startServer(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initStorage(cfg *config.Config, logger *zerolog.Logger) (domain.Storage, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		return repository.NewMemoryRepository(), nil
	}

	db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return nil, err
	}
	return db, nil
}

// startBackups snapshots SQLite storage in the background. Other drivers keep
// running without file backups.
func startBackups(ctx context.Context, cfg *config.Config, store domain.Storage, logger *zerolog.Logger) {
	db, _ := store.(*database.DB)
	backup, err := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Database.Driver).Msg("backup.enabled is ignored")
		return
	}
	go backup.Start(ctx)
}

type directorySeed struct {
	Clients   []models.Client   `yaml:"clients"`
	Pets      []models.Pet      `yaml:"pets"`
	Employees []models.Employee `yaml:"employees"`
}

// seedDirectory upserts the clients, pets and employees listed in DIRECTORY_PATH.
func seedDirectory(ctx context.Context, store domain.DirectoryWriter, logger *zerolog.Logger) error {
	path := os.Getenv("DIRECTORY_PATH")
	if path == "" {
		path = "configs/directory.yaml"
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("directory_path", path).Msg("directory seed not found, skipping")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Str("directory_path", path).Msg("read directory")
		return err
	}

	var seed directorySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("directory_path", path).Msg("parse directory")
		return err
	}

	for i := range seed.Clients {
		if err := store.UpsertClient(ctx, &seed.Clients[i]); err != nil {
			return fmt.Errorf("failed to seed client %d: %w", seed.Clients[i].ID, err)
		}
	}
	for i := range seed.Pets {
		if err := store.UpsertPet(ctx, &seed.Pets[i]); err != nil {
			return fmt.Errorf("failed to seed pet %d: %w", seed.Pets[i].ID, err)
		}
	}
	for i := range seed.Employees {
		if err := store.UpsertEmployee(ctx, &seed.Employees[i]); err != nil {
			return fmt.Errorf("failed to seed employee %d: %w", seed.Employees[i].ID, err)
		}
	}

	logger.Info().
		Int("clients", len(seed.Clients)).
		Int("pets", len(seed.Pets)).
		Int("employees", len(seed.Employees)).
		Msg("directory seeded")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		if cfg.Scheduling.Lock == config.LockRedis {
			// the locker reports the failure on first use
			logger.Error().Err(err).Msg("redis connection failed")
			return client
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initLocker(cfg *config.Config, client *redis.Client) (scheduling.Locker, error) {
	switch cfg.Scheduling.Lock {
	case config.LockRedis:
		if client == nil {
			return nil, errors.New("redis lock requested but redis is not configured")
		}
		return repository.NewRedisLocker(client, cfg.Scheduling.LockTTL), nil
	default:
		return scheduling.NewMemoryLocker(), nil
	}
}

func initNotifier(cfg *config.Config, cat *catalog.Catalog, loc *time.Location, logger *zerolog.Logger) (notify.Notifier, error) {
	router := notify.NewRouter().Fallback(notify.NewLogNotifier(logging.Component(logger, "notify")))

	if cfg.Notifier.Webhook.URL != "" {
		webhook := notify.NewWebhookNotifier(cfg.Notifier.Webhook, cat.Label, loc)
		for _, ch := range cfg.Notifier.Webhook.Channels {
			router.Handle(ch, webhook)
		}
	}

	if token := cfg.Notifier.Telegram.BotToken; token != "" {
		bot, err := notify.NewTelegramBot(token, cfg.Notifier.Telegram.Debug)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier enabled")
		router.Handle(models.ChannelTelegram, notify.NewTelegramNotifier(bot, cat.Label, loc))
	}

	return router, nil
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

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
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
