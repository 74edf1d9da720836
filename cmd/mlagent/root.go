package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opensearch-project/mlagent"
	"github.com/opensearch-project/mlagent/config"
	"github.com/opensearch-project/mlagent/logging"
)

type rootOptions struct {
	configFile string
	verbose    bool

	// registerer is swapped for a private registry in tests.
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	return newRootCmdWith(ro)
}

func newRootCmdWith(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mlagent",
		Short:         "mlagent - register, serve and execute ML agents",
		Long:          "mlagent runs CONVERSATIONAL and FLOW agents with context management hooks, connectors and conversation memory.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate(fmt.Sprintf("mlagent %s (commit: %s)\n", version, commit))
	cmd.PersistentFlags().StringVarP(&ro.configFile, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().BoolVarP(&ro.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServeCmd(ro))
	cmd.AddCommand(newValidateCmd(ro))
	cmd.AddCommand(newExecuteCmd(ro))
	return cmd
}

func (ro *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(ro.configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if ro.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func (ro *rootOptions) logger(cfg *config.Config, out io.Writer) logging.Logger {
	lc := cfg.LoggerConfig()
	lc.Output = out
	lc.Component = "cli"
	return logging.NewLogger(lc)
}

// openMesh assembles the stack from the loaded config. Logs go to stderr so
// that stdout carries only command output.
func (ro *rootOptions) openMesh(ctx context.Context, cmd *cobra.Command, optFns ...func(o *mlagent.Options)) (*mlagent.Mesh, error) {
	cfg, err := ro.loadConfig()
	if err != nil {
		return nil, err
	}
	base := func(o *mlagent.Options) {
		o.Config = cfg
		o.Logger = ro.logger(cfg, cmd.ErrOrStderr())
		o.Registerer = ro.registerer
		o.Gatherer = ro.gatherer
	}
	return mlagent.New(ctx, append([]func(o *mlagent.Options){base}, optFns...)...)
}
