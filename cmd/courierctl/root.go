package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/app"
	"github.com/lalith-99/courier/internal/config"
	"github.com/lalith-99/courier/internal/observ"
)

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "courierctl",
	Short: "Administers a courier deployment",
	Long: `courierctl runs one-off operations against the same storage, cache and
event log the API server uses. Configuration comes from courier.yaml and the
environment; the flags below override the matching keys.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("storage", "",
		"Storage backend, postgres or memory (overrides STORAGE)")
	viper.BindPFlag("storage", rootCmd.PersistentFlags().Lookup("storage"))

	rootCmd.PersistentFlags().String("event-log", "",
		"Path of the event log (overrides EVENT_LOG_PATH)")
	viper.BindPFlag("event-log", rootCmd.PersistentFlags().Lookup("event-log"))

	rootCmd.PersistentFlags().String("log-level", "",
		"Log level, debug through error (overrides LOG_LEVEL)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if s := viper.GetString("storage"); s != "" {
		cfg.Storage = strings.ToLower(s)
		if cfg.Storage != "postgres" && cfg.Storage != "memory" {
			return nil, fmt.Errorf("invalid --storage %q: want postgres or memory", s)
		}
	}
	if p := viper.GetString("event-log"); p != "" {
		cfg.EventLogPath = p
	}
	if l := viper.GetString("log-level"); l != "" {
		cfg.LogLevel = l
	}
	return cfg, nil
}

// withApp builds the services for one command and closes them afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "courierctl")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}
