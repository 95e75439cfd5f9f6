package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stratflow/stratflow/internal/backend"
	"github.com/stratflow/stratflow/internal/logging"
	"github.com/stratflow/stratflow/internal/orchestrator"
	"github.com/stratflow/stratflow/internal/panel"
	"github.com/stratflow/stratflow/internal/scheduler"
	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/internal/streaming"
	"github.com/stratflow/stratflow/internal/validation"
	"github.com/stratflow/stratflow/pkg/schema"
)

func main() {
	// .env is optional; real env vars still win inside loadConfig.
	_ = godotenv.Load()
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	v, err := validation.New()
	if err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()

	be := backend.NewLocal(st, backend.Config{
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	defer be.Shutdown()

	orch := orchestrator.New(be, st, v, orchestrator.Config{
		Poll: orchestrator.PollPolicy{
			Interval: time.Duration(cfg.PollIntervalSecs) * time.Second,
		},
		Notifier: panel.NewHubNotifier(hub),
		Logger:   logger,
		OnTransition: func(exec *schema.Execution) {
			_ = hub.Publish(context.Background(), streaming.StreamEvent{
				WorkflowID:  exec.WorkflowID,
				ExecutionID: exec.ID,
				EventType:   schema.ExecutionEventType(exec.Status),
				Payload:     exec,
			})
		},
	})
	defer orch.Close()

	sched := scheduler.New(st, orch, logger)
	if cfg.Scheduler {
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed-run recovery failed", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := panel.NewServer(panel.Deps{
		Store:            st,
		Validator:        v,
		Orchestrator:     orch,
		Scheduler:        sched,
		Hub:              hub,
		Logger:           logger,
		AutosaveInterval: time.Duration(cfg.AutosaveSecs) * time.Second,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
