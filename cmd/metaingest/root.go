package main

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c360/metaingest/config"
)

// app carries the state shared by all subcommands once the persistent
// flags are resolved.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Metadata ingest pipeline",
		Long: `metaingest parses metadata documents into records checked against an
attribute schema, runs them through an ordered chain of ingest stages and
stores accepted records in memory, Badger or NATS JetStream KV.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "configuration file, JSON or YAML (env: METAINGEST_CONFIG)")
	f.StringVar(&a.envFile, "env-file", "", "dotenv file loaded before the configuration (default .env when present)")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
	f.StringVar(&a.logFormat, "log-format", "", "json or text (overrides log.format)")

	cmd.AddCommand(
		newIngestCommand(a),
		newDeleteCommand(a),
		newRecordsCommand(a),
		newSchemaCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return cmd
}

// init loads the environment file and configuration, applies flag
// overrides and installs the logger.
func (a *app) init(cmd *cobra.Command) error {
	if err := loadEnvFile(a.envFile); err != nil {
		return err
	}
	if a.configPath == "" {
		a.configPath = os.Getenv(config.EnvPrefix + "_CONFIG")
	}

	loader := config.NewLoader()
	loader.EnableValidation(false)
	if a.configPath != "" {
		loader.AddLayer(a.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = setupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(a.logger)
	a.logger.Debug("Configuration loaded", "config_path", a.configPath, "backend", cfg.Storage.Backend)
	return nil
}

// loadEnvFile reads path into the environment without overriding variables
// that are already set. With no path, a missing .env is not an error.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
