// Command server runs the webforge API: sandbox lifecycle management and
// the code-application streaming pipeline behind an HTTP interface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/database"
	"github.com/webforge-ai/webforge/internal/events"
	"github.com/webforge-ai/webforge/internal/handler"
	"github.com/webforge-ai/webforge/internal/sandbox/factory"
	"github.com/webforge-ai/webforge/internal/service"
	"github.com/webforge-ai/webforge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("invalid log level", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := database.New(cfg)
	if err != nil {
		return err
	}
	st := store.New(db)

	f, err := factory.New(cfg, logger)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	manager := service.NewManager(cfg, f, st, broker, logger)

	// Reattach sandboxes that survived the last run before taking traffic.
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), time.Minute)
	manager.RestorePersisted(restoreCtx)
	cancelRestore()

	manager.Start()

	h := handler.New(cfg, logger, st, manager,
		service.NewProjectService(st),
		service.NewApply(logger),
		broker)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("backend", cfg.SandboxBackend))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}

	// Stop halts the sweep and terminates all registered sandboxes.
	manager.Stop(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
