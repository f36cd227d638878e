// Package app wires the runner together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/api"
	"github.com/AlfredBerg/rod-runner/internal/capture"
	"github.com/AlfredBerg/rod-runner/internal/config"
	"github.com/AlfredBerg/rod-runner/internal/dispatch"
	"github.com/AlfredBerg/rod-runner/internal/intake"
	"github.com/AlfredBerg/rod-runner/internal/metrics"
	"github.com/AlfredBerg/rod-runner/internal/queue"
	"github.com/AlfredBerg/rod-runner/internal/sandbox"
	"github.com/AlfredBerg/rod-runner/internal/store"
)

// App bundles every component of the runner. There are no package-level
// singletons; everything hangs off this struct.
type App struct {
	cfg config.Config
	log *zap.Logger

	store      *store.Store
	queue      *queue.Queue
	exec       *sandbox.Rod
	dispatcher *dispatch.Dispatcher
	capture    *capture.SQLite
	server     *http.Server
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var capStore *capture.SQLite
	if cfg.CaptureDB != "" {
		var err error
		capStore, err = capture.Open(cfg.CaptureDB, log)
		if err != nil {
			return nil, err
		}
		log.Info("request capture enabled", zap.String("database", cfg.CaptureDB))
	}

	st := store.New(cfg.RetainCompleted, cfg.Retention, log)
	q := queue.New(cfg.QueueDepth)

	var recorder sandbox.RequestRecorder
	if capStore != nil {
		recorder = capStore
	}
	exec := sandbox.NewRod(sandbox.RodConfig{
		Slots:    cfg.Concurrency,
		Timeout:  cfg.Timeout,
		Headless: cfg.Headless,
	}, recorder, log)

	d := dispatch.New(q, st, exec, cfg.Concurrency, m, log)
	in := intake.New(st, q, cfg.MaxScriptSize, m, log)
	srv := api.New(in, st, q, d, exec, log)

	return &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		queue:      q,
		exec:       exec,
		dispatcher: d,
		capture:    capStore,
		server: &http.Server{
			Addr:    cfg.Addr,
			Handler: srv.Router(m, registry, cfg.Debug),
		},
	}, nil
}

// Run starts everything and blocks until ctx is canceled, then shuts down
// in reverse order: http first so no new jobs arrive, workers drain, then
// the browsers and capture store close.
func (a *App) Run(ctx context.Context) error {
	// A broken chromium install should show up now, not on the first job.
	if err := a.exec.Warmup(); err != nil {
		a.log.Warn("browser warmup failed, jobs will fail until the engine recovers", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.dispatcher.Start(runCtx)
	go a.store.Janitor(runCtx, a.cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http api listening", zap.String("addr", a.cfg.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown did not finish cleanly", zap.Error(err))
	}

	a.dispatcher.Stop()
	a.exec.Cleanup()
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			a.log.Warn("failed closing capture store", zap.Error(err))
		}
	}
	a.log.Info("shutdown complete")
	return nil
}
