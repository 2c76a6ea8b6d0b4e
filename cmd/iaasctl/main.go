/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package main provides iaasctl, a command-line tool for operating VMs on the
// supported IaaS providers and for running the keep-alive monitor.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dom-porter/iaas-provider-lib/internal/config"
	"github.com/dom-porter/iaas-provider-lib/internal/monitor"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/tracing"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/registry"
	"github.com/dom-porter/iaas-provider-lib/internal/version"
)

const defaultMonitorLogFile = "iaas-monitor.log"

// app carries state shared by all subcommands
type app struct {
	configFile string
	envFile    string
	logFile    string
	output     string
	timeout    time.Duration

	factory  monitor.Factory
	config   *config.Config
	logger   logr.Logger
	shutdown func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(registry.New).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the command tree around factory
func newRootCommand(factory monitor.Factory) *cobra.Command {
	a := &app{factory: factory, logger: logr.Discard(), shutdown: func() {}}

	rootCmd := &cobra.Command{
		Use:   "iaasctl",
		Short: "Operate VMs across IaaS providers",
		Long: `iaasctl lists and power-controls virtual machines on Oracle Cloud and netcup,
and runs a monitor that starts every VM it finds stopped.`,
		Version:           version.String(),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { a.shutdown() },
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to the iaas YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&a.logFile, "log-file", "", "Rotated log file (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 2*time.Minute, "Timeout for one-shot commands")

	rootCmd.AddCommand(
		newVMCommand(a),
		newMonitorCommand(a),
		newVersionCommand(a),
	)

	return rootCmd
}

// setup loads the environment file and configuration and installs logging and tracing
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := validOutput(a.output); err != nil {
		return err
	}

	env, err := loadEnvFile(a.envFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.config = cfg

	logConfig := &logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Sampling:    cfg.Log.Sampling,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
	}
	if a.logFile != "" {
		logConfig.File = a.logFile
	}
	service := tracing.ServiceCLI
	if cmd.Name() == "monitor" {
		service = tracing.ServiceMonitor
		if logConfig.File == "" {
			logConfig.File = defaultMonitorLogFile
		}
	}

	logger, err := logging.Setup(logConfig)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logger = logger.WithName(service)
	if len(env) > 0 {
		a.logger.V(1).Info("Loaded environment file", "file", a.envFile, "values", logging.RedactMap(env))
	}

	shutdown, err := tracing.Setup(cmd.Context(), &tracing.Config{
		Enabled:           cfg.Tracing.Enabled,
		Endpoint:          cfg.Tracing.Endpoint,
		ServiceName:       service,
		ServiceVersion:    version.Version,
		SamplingRatio:     cfg.Tracing.SamplingRatio,
		InsecureTransport: cfg.Tracing.InsecureTransport,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown = shutdown

	return nil
}

// loadEnvFile applies the variables in path that are not already set and
// returns the ones it applied. A missing file is not an error.
func loadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	applied := make(map[string]string, len(env))
	for key, value := range env {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return nil, fmt.Errorf("failed to set %s from env file %s: %w", key, path, err)
		}
		applied[key] = value
	}
	return applied, nil
}

// context returns the command context bounded by the one-shot timeout
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := logging.IntoContext(cmd.Context(), a.logger)
	return context.WithTimeout(ctx, a.timeout)
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			return render(cmd.OutOrStdout(), a.output, info, func(p *tablePrinter) {
				p.row("Version:", info.Version)
				p.row("Git SHA:", info.GitSHA)
				p.row("Go:", info.GoVersion)
			})
		},
	}
}
