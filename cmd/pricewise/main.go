package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/pricewise/config"
	"github.com/Ramsey-B/pricewise/pkg/startup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, sync := newLogger(cfg)
	defer sync()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		logger.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(cfg, logger)
	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	app.register(s)

	if err := s.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		stopAll(s, logger)
		os.Exit(1)
	}
	app.health.SetReady(true)
	logger.WithFields(map[string]any{
		"port":    cfg.Port,
		"version": cfg.Version,
		"store":   cfg.StoreDriver,
	}).Infof("%s started", cfg.AppName)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-app.serverErr:
		logger.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	app.health.SetReady(false)
	stopAll(s, logger)
	logger.Info("Graceful shutdown complete")
}

func stopAll(s *startup.Startup, logger ectologger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, func()) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	zapLogger = zapLogger.With(zap.String("app", cfg.AppName), zap.String("version", cfg.Version))

	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }
}
