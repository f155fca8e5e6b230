package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"pharmachat"
)

type globalOptions struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
	LogFormat  string
	LogFile    string
}

// cliState is the state shared by every subcommand once the root command's
// pre-run has loaded the configuration.
type cliState struct {
	options globalOptions
	cfg     *pharmachat.AppConfig
	logger  *slog.Logger
}

func NewRootCmd() *cobra.Command {
	rt := &cliState{}
	cmd := &cobra.Command{
		Use:          "pharmachat",
		Short:        "Pharmaceutical Q&A agent over a drug adverse event graph, openFDA and PDF reports.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&rt.options.ConfigFile, "config", "", "path to a YAML config file (env: "+pharmachat.ConfigEnvVar+")")
	cmd.PersistentFlags().StringVar(&rt.options.EnvFile, "env-file", ".env", "dotenv file to read settings from")
	cmd.PersistentFlags().StringVar(&rt.options.LogLevel, "log-level", "", "log level: debug, info, warn or error (env: LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&rt.options.LogFormat, "log-format", "", "log format: text or json (env: LOG_FORMAT)")
	cmd.PersistentFlags().StringVar(&rt.options.LogFile, "log-file", "", "also write logs to this rotated file (env: LOG_FILE)")

	cmd.AddCommand(NewServeCmd(rt))
	cmd.AddCommand(NewChatCmd(rt))
	cmd.AddCommand(NewSchemaCmd(rt))
	cmd.AddCommand(NewTokenCmd(rt))

	return cmd
}

func (rt *cliState) setup(cmd *cobra.Command) error {
	cfg, err := pharmachat.LoadConfig(rt.options.ConfigFile, rt.options.EnvFile)
	if err != nil {
		return err
	}
	if rt.options.LogLevel != "" {
		cfg.Log.Level = rt.options.LogLevel
	}
	if rt.options.LogFormat != "" {
		cfg.Log.Format = rt.options.LogFormat
	}
	if rt.options.LogFile != "" {
		cfg.Log.File = rt.options.LogFile
	}
	level, err := pharmachat.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	rt.cfg = cfg
	rt.logger = newLogger(cmd.ErrOrStderr(), cfg.Log.Format, level, cfg.Log.File)
	slog.SetDefault(rt.logger)
	return nil
}
