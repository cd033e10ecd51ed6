package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"manaswap/internal/api"
	"manaswap/internal/config"
	"manaswap/internal/engine"
	"manaswap/internal/ledger"
	"manaswap/internal/registry"
	"manaswap/internal/storage"
	"manaswap/internal/storage/memory"
	"manaswap/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "amm",
		Short:        "Constant-product swap engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the swap engine API server",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("postgres-dsn", "", "Postgres DSN (empty uses in-memory storage)")
	serveCmd.Flags().String("fee-rate", "0.003", "trade fee rate, decimal in [0, 1)")
	serveCmd.Flags().Int("max-retries", 3, "maximum commit retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 50*time.Millisecond, "initial commit retry backoff")
	serveCmd.Flags().Duration("ledger-timeout", 3*time.Second, "timeout per ledger call")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown window")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PostgresDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return err
		}
		store = pg
		logger.Info("storage ready", zap.String("backend", "postgres"))
	} else {
		store = memory.NewStore()
		logger.Warn("storage ready", zap.String("backend", "memory"),
			zap.String("note", "state is lost on restart"))
	}
	defer store.Close()

	ldg := ledger.NewMemory()

	eng := engine.New(engine.Config{
		FeeRate:       cfg.FeeRate,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		LedgerTimeout: cfg.LedgerTimeout,
	}, store, ldg, logger)
	reg := registry.New(store, ldg, logger)

	server := api.NewServer(cfg.ListenAddr, reg, eng, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("swap engine start",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("fee_rate", cfg.FeeRate.String()),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("retry_backoff", cfg.RetryBackoff),
		zap.Duration("ledger_timeout", cfg.LedgerTimeout),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
