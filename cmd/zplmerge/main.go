package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"zplmerge/internal/config"
)

// app holds what every subcommand shares after flags are parsed.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("zplmerge failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "zplmerge",
		Short:         "Render ZPL label files into one PDF through the Labelary API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log_level from the config")

	root.AddCommand(
		serveCmd(a),
		convertCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		log.Error().Err(err).Str("path", a.configPath).Msg("failed to load config")
		return err //nolint:wrapcheck
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Error().Err(err).Msg("invalid log level")
		return err //nolint:wrapcheck
	}
	zerolog.SetGlobalLevel(level)
	a.cfg = cfg
	return nil
}
