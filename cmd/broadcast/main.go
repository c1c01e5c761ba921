package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feedwire/feedwire/internal/broadcast"
	"github.com/feedwire/feedwire/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadBroadcastConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.DisableStacktrace = true
	if cfg.LogLevel != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.Duration("flushInterval", cfg.FlushInterval),
		zap.Int("maxClients", cfg.MaxClients),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewHub(cfg.FlushInterval, clockwork.NewRealClock(), logger)
	go hub.Run(ctx)

	accepts := broadcast.NewAcceptLimiter(cfg.AcceptPerSecond, cfg.AcceptBurst, cfg.MaxClients, hub)
	router := broadcast.NewRouter(hub, accepts, logger)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting broadcast server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down broadcast server...")

	// Stop the hub first so clients see their send channels close.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("broadcast server stopped")
	return 0
}
