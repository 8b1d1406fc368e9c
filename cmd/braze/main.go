package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/config"
	"github.com/RichardKnop/braze/internal/logging"
)

const cliName = "braze"

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "Single client SQL statement server",
	Long: `braze serves one client at a time over a plain TCP socket and rewrites
:name placeholders in SQL statements into the syntax a database driver expects.

Statements can be classified, rewritten or executed against PostgreSQL or
SQLite, either locally or through a running server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		} else {
			cfg = config.Default()
		}

		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync() // flushes buffer, if any
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to braze.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file ($LOG_LEVEL wins over both)")

	rootCmd.AddCommand(serveCmd, clientCmd, rewriteCmd, execCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
