package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/offerwatch/internal/control"
	"github.com/vietddude/offerwatch/internal/core/config"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

var errNoDatabase = errors.New("database.url is not configured")

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "offerwatch",
	Short: "Sui domain offer indexer",
	Long:  `offerwatch follows Sui checkpoints and keeps the current state of every domain offer in PostgreSQL.`,
	Run:   runWatcher,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the indexer (default command)",
	Run:   runWatcher,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if isDebug {
		level = slog.LevelDebug
	}

	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	} else {
		stylelog.InitDefault(&tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
	return slog.Default()
}

// loadConfig loads the config file and sets up logging, exiting on failure.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	return cfg
}

// openDatabaseStore opens the PostgreSQL store for the admin commands.
func openDatabaseStore(ctx context.Context, cfg *config.AppConfig) (storage.Store, error) {
	if cfg.Database.URL == "" {
		return nil, errNoDatabase
	}
	store, _, err := control.OpenStore(ctx, cfg.Database, slog.Default())
	return store, err
}

func runWatcher(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewWatcher(ctx, control.ConfigFromApp(cfg), logger)
	if err != nil {
		logger.Error("Failed to initialize Watcher", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		logger.Error("Failed to start Watcher", "error", err)
		os.Exit(1)
	}

	logger.Info("Watcher started",
		"config", cfgPath,
		"pipeline", cfg.Indexer.Pipeline,
		"package", cfg.Sui.ContractPackageID,
	)

	sig := <-sigChan
	logger.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("Watcher stopped gracefully")
}
