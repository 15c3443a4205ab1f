package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/config"
	"github.com/Tyrowin/roomcast/internal/logging"
	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/realtime"
	"github.com/Tyrowin/roomcast/internal/retention"
	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/internal/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serverConfig(cfg config.Config) server.Config {
	return server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: int64(cfg.Server.MaxMessageSize),
		SendBufferSize: cfg.Server.SendBufferSize,
		RateLimit: server.RateLimitConfig{
			Burst:          cfg.Server.RateLimit.Burst,
			RefillInterval: cfg.Server.RateLimit.RefillInterval.Std(),
		},
	}
}

// serve runs until ctx is cancelled, then shuts every component down within
// the configured timeout.
func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	store, applied, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("names", applied))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	validator, err := newValidator(cfg, store)
	if err != nil {
		return err
	}

	engine := realtime.New(realtime.Options{
		Store:       store,
		Logger:      logger.Named("realtime"),
		Metrics:     m,
		TypingTTL:   cfg.Realtime.TypingTTL.Std(),
		MaxFileSize: int64(cfg.Realtime.MaxFileSize),
	})

	job, err := retention.New(store, cfg.Retention.Schedule, cfg.Retention.Period.Std(), logger.Named("retention"), m)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Config:  serverConfig(cfg),
		Engine:  engine,
		Auth:    validator,
		Health:  store,
		Logger:  logger.Named("server"),
		Metrics: m,
	})
	if err != nil {
		return err
	}

	background, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	go engine.Run(background, cfg.Realtime.TypingSweepInterval.Std())
	go job.Run(background)

	logger.Info("starting roomcast",
		zap.String("addr", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
		zap.Stringer("max_file_size", cfg.Realtime.MaxFileSize),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	cancelBackground()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
	logger.Info("roomcast stopped")
	return serveErr
}
