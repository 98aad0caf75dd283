package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/credentials"
	"github.com/loqalabs/jarvis/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath      = cli.String("config", "", "Path to configuration file")
		credentialsPath = cli.String("credentials", config.DefaultCredentialsPath(), "Path to the OAuth2 credentials file")
		deviceModelID   = cli.String("device_model_id", "", "Registered device model id")
		deviceID        = cli.String("device_id", "", "Device instance id")
		projectID       = cli.String("project_id", "", "Project id; registers the device when set")
		envFile         = cli.StringP("env", "e", ".env", "Env file path")
		logLevel        = cli.StringP("log", "l", "", "Log level (debug, info, warn, error)")
		showVersion     = cli.Bool("version", false, "Print version and exit")
	)
	cli.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(slog.New(slog.NewJSONHandler(os.Stderr, nil)), "failed to load config", err)
	}
	if cli.CommandLine.Changed("credentials") || cfg.Assistant.CredentialsPath == "" {
		cfg.Assistant.CredentialsPath = *credentialsPath
	}
	if *deviceModelID != "" {
		cfg.Device.ModelID = *deviceModelID
	}
	if *deviceID != "" {
		cfg.Device.ID = *deviceID
	}
	if *projectID != "" {
		cfg.Device.ProjectID = *projectID
	}
	if *logLevel != "" {
		cfg.Telemetry.LogLevel = *logLevel
	}

	// The console view owns stdout; logs go to stderr.
	var logOut io.Writer = os.Stdout
	if cfg.Console.Enabled {
		logOut = os.Stderr
	}
	logger := runtime.NewLogger(logOut, cfg.Telemetry.LogFormat, cfg.Telemetry.LogLevel)

	if err := config.Validate(cfg); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	opts := runtime.Options{
		Version:  version,
		Stdout:   os.Stdout,
		TraceOut: io.Discard,
	}
	if cfg.Console.Enabled {
		opts.Stdin = os.Stdin
	}
	if cfg.Device.ProjectID != "" || cfg.Assistant.Mode == "exec" {
		creds, err := credentials.Load(cfg.Assistant.CredentialsPath)
		if err != nil {
			fatal(logger, "failed to load credentials", err)
		}
		opts.Credentials = &creds
	}

	rt := runtime.New(cfg, logger, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
