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
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feedwire/feedwire/internal/bridge"
	"github.com/feedwire/feedwire/internal/config"
	"github.com/feedwire/feedwire/internal/server"
	"github.com/feedwire/feedwire/internal/store"
)

var (
	cfgFile string
	verbose bool
)

func setupLogger(verbose bool, level string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedwire-server",
		Short: "Feedwire API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("FEEDWIRE_CONFIG"), "config file path (or set FEEDWIRE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}

	logger, err := setupLogger(verbose, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return err
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("storeMode", cfg.Store.Mode),
		zap.String("broadcastURL", cfg.Bridge.BroadcastURL),
		zap.Int("bridgeQueueSize", cfg.Bridge.QueueSize),
	)

	clock := clockwork.NewRealClock()

	var st store.Store
	switch cfg.Store.Mode {
	case "memory":
		st = store.NewMemory(clock)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.PostgresDSN, logger)
		if err != nil {
			logger.Error("failed to connect to postgres", zap.Error(err))
			return err
		}
	default:
		logger.Error("unknown store mode", zap.String("mode", cfg.Store.Mode))
		return fmt.Errorf("unknown store mode %q", cfg.Store.Mode)
	}
	defer st.Close()

	br := bridge.New(bridge.Config{
		URL:         cfg.Bridge.BroadcastURL,
		QueueSize:   cfg.Bridge.QueueSize,
		DialTimeout: time.Duration(cfg.Bridge.DialTimeoutSec) * time.Second,
		MinBackoff:  time.Duration(cfg.Bridge.MinBackoffSec) * time.Second,
		MaxBackoff:  time.Duration(cfg.Bridge.MaxBackoffSec) * time.Second,
	}, logger)
	br.Start(ctx)

	srv := server.NewServer(st, br, clock, logger)
	router := server.NewRouter(srv, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
