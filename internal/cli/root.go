package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/chainevents/internal/control"
	"github.com/vietddude/chainevents/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
	reload  bool
)

var rootCmd = &cobra.Command{
	Use:   "chainevents",
	Short: "Chain event ingestion service",
	Long: `chainevents watches governance and token contracts on EVM, Cosmos SDK and Substrate
chains, recovers what it missed while offline and hands every event to a handler chain.`,
	Run: runService,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&reload, "reload", true, "reload the chain list from the config file on every reconcile")
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// setup loads .env and the config file and initialises the logger.
func setup() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level := logLevels[cfg.Logging.Level] // unknown names map to info
	if isDebug {
		level = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// openService builds the service or exits.
func openService(ctx context.Context, cfg *config.AppConfig, path string) *control.Service {
	svc, err := control.NewService(ctx, cfg, path, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	return svc
}

func runService(cmd *cobra.Command, args []string) {
	cfg := setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := ""
	if reload {
		path = cfgPath
	}
	svc := openService(ctx, cfg, path)
	defer svc.Close()

	slog.Info("chainevents started", "config", cfgPath, "chains", len(cfg.Shard()))
	if err := svc.Run(ctx); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("chainevents stopped gracefully")
}
