package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ticker-alerts/internal/alerting"
	"ticker-alerts/internal/config"
	"ticker-alerts/internal/dispatch"
	"ticker-alerts/internal/engine"
	"ticker-alerts/internal/market"
	"ticker-alerts/internal/metrics"
	"ticker-alerts/internal/scheduler"
	"ticker-alerts/internal/service"
	"ticker-alerts/internal/storage"
	"ticker-alerts/internal/stream"
	"ticker-alerts/internal/universe"
	"ticker-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// files bundles the three JSON stores.
type files struct {
	alerts   *storage.AlertBook
	triggers *storage.TriggerLog
	prices   *storage.PriceArchive
}

func (a *App) openFiles() files {
	cfg := a.Config.Storage
	return files{
		alerts:   storage.NewAlertBook(filepath.Join(cfg.Dir, cfg.AlertsFile), a.Logger),
		triggers: storage.NewTriggerLog(filepath.Join(cfg.Dir, cfg.HistoryFile), a.Logger),
		prices:   storage.NewPriceArchive(filepath.Join(cfg.Dir, cfg.PriceHistoryFile), cfg.PriceHistoryMax, a.Logger),
	}
}

// newNotifier builds the delivery chain. With a queue, remote channels are
// delivered in the background; without one (one-shot commands) inline.
func (a *App) newNotifier(queue *dispatch.Queue) alerting.Notifier {
	notifiers := alerting.Fanout{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		var tg alerting.Notifier = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
		if !cfg.AutoToo {
			tg = alerting.UserOnly{Next: tg}
		}
		if queue != nil {
			tg = dispatch.NewNotifier(queue, tg)
		}
		notifiers = append(notifiers, tg)
	}
	return notifiers
}

func (a *App) newQueue() *dispatch.Queue {
	return dispatch.NewQueue(dispatch.Options{
		Name:       "remote",
		Size:       a.Config.Alerting.QueueSize,
		JobTimeout: a.Config.Engine.NotifyTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEngine(source engine.SnapshotSource, f files, db *storage.Store, queue *dispatch.Queue) *engine.Engine {
	deps := engine.Deps{
		Source:   source,
		Alerts:   f.alerts,
		Notifier: a.newNotifier(queue),
	}
	// typed nils must not leak into the optional interfaces
	if f.triggers != nil {
		deps.Triggers = f.triggers
	}
	if f.prices != nil {
		deps.Prices = f.prices
	}
	if db != nil {
		deps.Sink = db
		if queue != nil {
			deps.Sink = dispatch.NewSink(queue, db)
		}
		deps.Locker = db
	}

	cfg := a.Config.Engine
	return engine.New(engine.Options{
		AutoEnable:           cfg.AutoEnable,
		AutoPercentThreshold: cfg.AutoPercentThreshold,
		NotifyTimeout:        cfg.NotifyTimeout,
		AdvisoryLockKey:      cfg.AdvisoryLockKey,
		LockTimeout:          cfg.LockTimeout,
	}, deps, a.Logger)
}

func (a *App) newResolver() *universe.Resolver {
	cfg := a.Config.Universe
	return universe.NewResolver(universe.Options{
		BaseURL:    cfg.RESTBaseURL,
		QuoteAsset: cfg.QuoteAsset,
		Candidates: cfg.Symbols(),
		Timeout:    cfg.RequestTimeout,
		UserAgent:  version.UserAgent(),
	}, a.Logger)
}

func (a *App) newIngestor(store *market.Store) *stream.Ingestor {
	cfg := a.Config.Stream
	return stream.NewIngestor(stream.Options{
		BaseURL:          cfg.BaseURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		PingInterval:     cfg.PingInterval,
		StopTimeout:      cfg.StopTimeout,
		Reconnect:        cfg.Reconnect,
		MaxBackoff:       cfg.MaxBackoff,
	}, store, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		a.Logger.Info().Msg("database.dsn not configured; trigger mirror disabled")
	} else {
		defer closeStore()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		srv := metrics.Serve(addr)
		a.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Warn().Err(err).Msg("metrics shutdown")
			}
		}()
	}

	queue := a.newQueue()
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.Engine.NotifyTimeout)
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("pending deliveries dropped on shutdown")
		}
	}()

	store := market.NewStore(a.Config.Market.HistoryCapacity)
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Engine.Interval,
		StartupDelay: a.Config.Engine.StartupDelay,
	}, a.Logger)

	svc := service.New(a.newResolver(), store, a.newIngestor(store), a.newEngine(store, a.openFiles(), db, queue), sched, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	if err := svc.Run(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// SnapshotOptions configure the snapshot command.
type SnapshotOptions struct {
	Wait time.Duration
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit    int
	Database bool
}

// ExportOptions hold parameters for exporting archived prices.
type ExportOptions struct {
	Symbol  string
	PNGPath string
	CSVPath string
}

// SimulateOptions describe a synthetic tick used to exercise the alert path.
type SimulateOptions struct {
	Symbol  string
	Price   float64
	Percent float64
}
