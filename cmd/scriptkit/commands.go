package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptkit/internal/providers"
)

// app carries what every subcommand needs once flags and environment are read
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		logLevel  string
		manifests string
	)

	root := &cobra.Command{
		Use:           "scriptkit",
		Short:         "Third-party script loading, relaying and introspection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if manifests != "" {
				cfg.Scripts.ManifestDir = manifests
			}
			logger, err := logging.New(cfg.Logging, logging.WithOutput(cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&manifests, "manifests", "", "Directory of provider manifests")

	root.AddCommand(
		newServeCmd(a),
		newWorkerCmd(a),
		newProvidersCmd(a),
		newSizeCmd(a),
		newProbeCmd(a),
	)
	return root
}

// client builds the upstream client from the relay settings
func (a *app) client() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = a.cfg.Relay.Timeout
	cfg.Retries = a.cfg.Relay.Retries
	cfg.MaxBody = a.cfg.Relay.MaxBody
	cfg.AllowPrivate = a.cfg.Relay.AllowPrivate
	return httpclient.New(cfg)
}

// catalog returns the built-ins plus the configured manifests
func (a *app) catalog(ctx context.Context, deps pipeline.Deps) (*providers.Catalog, error) {
	catalog := providers.NewBuiltinCatalog()
	if dir := a.cfg.Scripts.ManifestDir; dir != "" {
		res, err := providers.NewLoader(catalog, dir, deps, a.logger.Component("manifests")).Load(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range res.Errors {
			a.logger.Warn("Skipped manifest entry", zap.String("error", e))
		}
	}
	return catalog, nil
}
