package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/recycle-crawler/internal/config"
	"github.com/maltedev/recycle-crawler/internal/logger"
)

var (
	configPath string

	cfg    *config.Config
	appLog *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "recycle-crawler",
	Short:         "recycle-crawler collects the aihuishou recycle catalog of a category.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		l, err := logger.New(os.Stderr, loaded.Logging.Level, loaded.Logging.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(l)

		cfg, appLog = loaded, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default ./config.yaml if present)")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
