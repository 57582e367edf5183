package server

import (
	"context"
	"fmt"
	"time"

	"TradeDesk/internal/domain/repository"
	"TradeDesk/internal/service/ratelimit"
	"TradeDesk/internal/services/markdown"
	"TradeDesk/internal/usecase"
	"TradeDesk/pkg/config"
	xhttp "TradeDesk/pkg/http"
	pkgkafka "TradeDesk/pkg/kafka"
	applogger "TradeDesk/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// Components are the wired pieces the commands drive.
type Components struct {
	Registry  *prometheus.Registry
	Session   *usecase.Session
	Contexts  *usecase.StockContextCache
	Watchlist *usecase.Watchlist
	Renderer  *markdown.Renderer
	Limiter   *ratelimit.Limiter
	Handler   xhttp.Handler
}

// App encapsulates the application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	Components
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, log: log.Named("app"), Components: c}
}

func (a *App) Config() *config.Config   { return a.cfg }
func (a *App) Logger() *applogger.Logger { return a.log }

// Serve runs the companion server until ctx is cancelled, then shuts it down
// and tears the session down.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.Watchlist.Load(ctx); err != nil {
		a.log.Warn("watchlist unavailable", applogger.Error(err))
	}

	srv := xhttp.NewServer(a.log, a.Handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRegistry(a.Registry),
		xhttp.WithCORS(a.cfg.Server.AllowOrigins...),
	)

	go a.Session.WatchHealth(ctx)
	go a.sweepLimiter(ctx)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("http server start: %w", err)
	}
	<-ctx.Done()

	a.log.Info("shutdown signal received")
	a.Session.Unload(nil)
	if err := srv.Stop(context.Background()); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}

func (a *App) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.Limiter.Sweep(10 * time.Minute); n > 0 {
				a.log.Debug("rate limiter swept", applogger.Int("buckets", n))
			}
		}
	}
}

// Archiver copies lifecycle events from Kafka into the history store.
type Archiver struct {
	log      *applogger.Logger
	consumer *pkgkafka.Consumer
	handler  pkgkafka.MessageHandler
	store    repository.HistoryStore
}

func NewArchiver(log *applogger.Logger, consumer *pkgkafka.Consumer, handler pkgkafka.MessageHandler, store repository.HistoryStore) *Archiver {
	return &Archiver{log: log.Named("archiver"), consumer: consumer, handler: handler, store: store}
}

// Run consumes until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.store.Health(ctx); err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	a.consumer.RegisterHandler(a.handler)
	if err := a.consumer.Start(); err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.log.Info("kafka consumer started", applogger.String("topic", a.handler.Topic()))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.consumer.Stop(stopCtx); err != nil {
		a.log.Warn("kafka consumer stop error", applogger.Error(err))
		return err
	}
	a.log.Info("archiver stopped")
	return nil
}
