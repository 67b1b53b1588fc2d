// Package control wires configuration into a running chat application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/streamchat/internal/chat/connection"
	"github.com/vietddude/streamchat/internal/chat/health"
	"github.com/vietddude/streamchat/internal/chat/session"
	"github.com/vietddude/streamchat/internal/core/config"
	"github.com/vietddude/streamchat/internal/core/worker"
	"github.com/vietddude/streamchat/internal/infra/completion"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

// App is the main application struct that manages the session lifecycle.
type App struct {
	cfg          *config.AppConfig
	client       *completion.Client
	monitor      *connection.Monitor
	grpcProber   *connection.GRPCProber
	session      *session.Session
	stores       *Stores
	healthMon    *health.Monitor
	healthServer *health.Server
	pruner       *worker.Pruner
	log          *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// SessionConfig maps application config onto a session config.
func SessionConfig(cfg *config.AppConfig) session.Config {
	sc := session.DefaultConfig(cfg.Completion.Model)
	sc.FallbackModels = append([]string(nil), cfg.Completion.FallbackModels...)
	sc.Temperature = cfg.Completion.Temperature
	sc.MaxTokens = cfg.Completion.MaxTokens
	sc.MaxAttempts = cfg.Retry.MaxAttempts
	sc.MaxFallbackAttempts = cfg.Retry.MaxFallbackAttempts
	sc.KeepRatio = cfg.Retry.KeepRatio
	sc.BaseDelay = cfg.Retry.BaseDelay
	sc.MaxDelay = cfg.Retry.MaxDelay
	if cfg.Retry.Jitter != nil {
		sc.JitterRatio = *cfg.Retry.Jitter
	}
	return sc
}

// NewProber builds the configured connectivity prober. It returns nil
// for probe kind "none".
func NewProber(cfg config.ConnectionConfig) (connection.Prober, error) {
	switch cfg.ProbeKind {
	case config.ProbeHTTP:
		return connection.NewHTTPProber(cfg.ProbeURL, nil), nil
	case config.ProbeGRPC:
		return connection.NewGRPCProber(cfg.GRPCTarget, cfg.GRPCService, cfg.GRPCTLS)
	default:
		return nil, nil
	}
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	// 1. Storage
	stores, err := OpenStores(ctx, cfg, true)
	if err != nil {
		return nil, err
	}

	// 2. Completion client
	client := completion.NewClient(completion.Options{
		URL:              cfg.Completion.URL,
		APIKey:           cfg.Completion.APIKey,
		FirstByteTimeout: cfg.Completion.FirstByteTimeout,
		IdleTimeout:      cfg.Completion.IdleTimeout,
	})

	// 3. Connection monitor
	prober, err := NewProber(cfg.Connection)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	monCfg := connection.DefaultConfig()
	monCfg.ProbeInterval = cfg.Connection.ProbeInterval
	monCfg.ProbeTimeout = cfg.Connection.ProbeTimeout
	monitor := connection.NewMonitor(monCfg, prober)

	// 4. Session
	sess, err := session.New(SessionConfig(cfg), session.Deps{
		Streamer:    client,
		Monitor:     monitor,
		Transcripts: stores.Transcripts,
		Attempts:    stores.Attempts,
		Logger:      log,
	})
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 5. Health
	healthMon := health.NewMonitor(monitor, sess, stores.Health)

	app := &App{
		cfg:       cfg,
		client:    client,
		monitor:   monitor,
		session:   sess,
		stores:    stores,
		healthMon: healthMon,
		log:       log,
	}
	if gp, ok := prober.(*connection.GRPCProber); ok {
		app.grpcProber = gp
	}
	if cfg.Server.Port > 0 {
		app.healthServer = health.NewServer(healthMon, cfg.Server.Port)
	}

	// 6. Retention
	if cfg.Storage.Retention > 0 {
		targets := make(map[string]storage.Pruner)
		if p, ok := stores.Reader.(storage.Pruner); ok {
			targets["transcripts"] = p
		}
		if p, ok := stores.Attempts.(storage.Pruner); ok {
			targets["attempts"] = p
		}
		if len(targets) > 0 {
			app.pruner = worker.NewPruner(cfg.Storage.Retention, targets)
		}
	}
	return app, nil
}

// Session returns the chat session.
func (a *App) Session() *session.Session { return a.session }

// Monitor returns the connection monitor.
func (a *App) Monitor() *connection.Monitor { return a.monitor }

// Stores returns the persistence layer.
func (a *App) Stores() *Stores { return a.stores }

// Health returns the health monitor.
func (a *App) Health() *health.Monitor { return a.healthMon }

// Start launches background tasks. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	g.Go(func() error {
		a.monitor.Run(gctx)
		return nil
	})

	if a.healthServer != nil {
		g.Go(func() error {
			a.log.Info("Health server listening", "port", a.cfg.Server.Port)
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	if a.pruner != nil {
		g.Go(func() error {
			a.pruner.Start(gctx)
			return nil
		})
	}

	if db := a.stores.DB(); db != nil {
		db.StartMetricsCollector(gctx)
	}
	return nil
}

// Stop closes the session and waits for background tasks.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping application...")

	var errs []error
	if err := a.session.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		if err := a.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.grpcProber != nil {
		if err := a.grpcProber.Close(); err != nil {
			a.log.Warn("Failed to close grpc prober", "error", err)
		}
	}
	if err := a.stores.Close(); err != nil {
		errs = append(errs, err)
	}

	requests, failures := a.client.Stats()
	a.log.Info("Application stopped", "requests", requests, "failures", failures)
	return errors.Join(errs...)
}
