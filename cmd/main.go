// jobmate-notifier-service
//
// Watches Upwork RSS feeds on behalf of Telegram subscribers. Every
// subscriber gets one recurring tick; each tick fetches the subscriber's
// feeds, drops entries already seen or rejected by their filters, and sends
// the rest as chat messages.
//
// Also exposes a small operator REST API (health, subscribers, jobs) and
// publishes EVENT_TICK_FAILED to Redis when a tick cannot reach the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // subscriber timezones must resolve on minimal images

	"github.com/alexflint/go-arg"

	"jobmate/notifier-service/internal/api"
	"jobmate/notifier-service/internal/config"
	"jobmate/notifier-service/internal/db"
	"jobmate/notifier-service/internal/dedup"
	"jobmate/notifier-service/internal/notify"
	"jobmate/notifier-service/internal/notion"
	"jobmate/notifier-service/internal/scheduler"
	"jobmate/notifier-service/internal/scraper"
	"jobmate/notifier-service/internal/store"
	"jobmate/notifier-service/internal/subscriber"
	"jobmate/notifier-service/internal/telegram"
)

const version = "1.0.0"

type args struct {
	EnvFile string `arg:"--env-file" help:"dotenv file to load (default .env when present)"`
	Config  string `arg:"--config" help:"YAML config file, overrides $CONFIG_FILE"`
}

func (args) Version() string { return "notifier-service " + version }

func main() {
	var a args
	arg.MustParse(&a)

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load(a.EnvFile, a.Config)
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger.With("service", "notifier-service"))

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ───────────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// ── Redis ───────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info("redis connected")
	} else {
		logger.Info("redis disabled, seen cache and events off")
	}

	// ── Pipeline ────────────────────────────────────────────────────────────
	// The scheduler needs the worker, the worker needs the bot, and the bot
	// needs the scheduler through the command service. worker is assigned
	// before anything can tick.
	var worker *scraper.Worker
	sched := scheduler.New(scheduler.RunnerFunc(func(ctx context.Context, id int64) error {
		return worker.Run(ctx, id)
	}), cfg.RepeatPeriod(), logger)

	svc := subscriber.NewService(st, sched, cfg.OperatorIDs)
	commands := telegram.NewCommands(svc, cfg.RepeatPeriod(), logger)
	bot, err := telegram.NewBot(cfg.TelegramToken, commands, cfg.OperatorIDs, logger)
	if err != nil {
		return err
	}

	alerters := notify.Alerters{bot}
	if rdb != nil {
		alerters = append(alerters, notify.NewRedisPublisher(rdb))
	}
	opts := []scraper.Option{scraper.WithLogger(logger), scraper.WithAlerter(alerters)}
	if cfg.NotionEnabled() {
		nc := notion.New(cfg.NotionToken, cfg.NotionDBID)
		if err := nc.Ping(ctx); err != nil {
			logger.Warn("notion unreachable, records may be lost", "err", err)
		}
		opts = append(opts, scraper.WithRecordSink(nc))
		logger.Info("notion record sink enabled")
	}

	worker = scraper.NewWorker(st, scraper.NewFeedFetcher(cfg.FetchTimeout()),
		dedup.New(st, rdb, logger), bot, opts...)

	// ── Schedules ───────────────────────────────────────────────────────────
	if _, err := svc.Restore(ctx); err != nil {
		return err
	}
	sched.Start(ctx)

	go bot.Listen(ctx)

	// ── HTTP server ─────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.NewHandler(svc, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// /subscribers/{id}/run waits for a full tick.
		WriteTimeout: 2 * time.Minute,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-srvErr:
		logger.Error("http server error", "err", err)
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "err", err)
	}
	sched.Stop()
	logger.Info("stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("postgres store ready")
		return pg, nil

	case config.BackendFirestore:
		client, err := db.NewFirestoreClient(ctx, cfg.FirestoreProjectID, cfg.DatabaseName, cfg.FirestoreCredentials)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		slog.Info("firestore store ready", "project", cfg.FirestoreProjectID)
		return store.NewFirestore(client), nil
	}

	slog.Warn("memory store in use, subscribers are lost on restart")
	return store.NewMemory(), nil
}
