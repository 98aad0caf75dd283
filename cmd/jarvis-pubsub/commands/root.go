package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loqalabs/jarvis/internal/bus"
	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/runtime"
)

var (
	configPath string
	envFile    string
	logLevel   string
	project    string

	cfg       config.Config
	logger    *slog.Logger
	busClient *bus.Client
)

func Execute() error {
	err := execute(context.Background(), newRootCmd())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

// execute runs root and then closes the bus connection. Cobra skips the
// post-run hooks when RunE fails, so the close cannot live there.
func execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	busClient.Close()
	busClient = nil
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jarvis-pubsub",
		Short:         "Publish to and receive from Jarvis message topics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load env file: %w", err)
				}
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			if logLevel != "" {
				cfg.Telemetry.LogLevel = logLevel
			}
			if project == "" {
				project = cfg.PubSub.Project
			}
			logger = runtime.NewLogger(os.Stderr, cfg.Telemetry.LogFormat, cfg.Telemetry.LogLevel)

			busClient, err = bus.Connect(cmd.Context(), cfg.Bus, "jarvis-pubsub", logger)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVarP(&envFile, "env", "e", ".env", "env file loaded before configuration")
	root.PersistentFlags().StringVarP(&logLevel, "log", "l", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&project, "project", "", "project the topic belongs to (default from config, ok-jarvis)")

	root.AddCommand(publishCmd(), receiveCmd())
	return root
}
