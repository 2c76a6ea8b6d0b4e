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

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dom-porter/iaas-provider-lib/internal/config"
	"github.com/dom-porter/iaas-provider-lib/internal/monitor"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/health"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/metrics"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup/scpapi"
	"github.com/dom-porter/iaas-provider-lib/internal/version"
)

// sweepRow is the printable outcome of a sweep for one VM, or for a provider
// that failed before its VMs were known
type sweepRow struct {
	Provider string `json:"provider" yaml:"provider"`
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	State    string `json:"state,omitempty" yaml:"state,omitempty"`
	Action   string `json:"action,omitempty" yaml:"action,omitempty"`
	Result   string `json:"result,omitempty" yaml:"result,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

type monitorFlags struct {
	once     bool
	listen   string
	interval time.Duration
}

func newMonitorCommand(a *app) *cobra.Command {
	flags := &monitorFlags{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start every stopped VM on the configured providers",
		Long: `monitor enumerates the VMs of every provider listed in the config file and
starts the ones that are STOPPED. Without --once it repeats on an interval and
serves /metrics, /healthz, /readyz and /health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMonitor(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.once, "once", false, "Run a single sweep, print the report and exit")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Metrics and health listen address (overrides config)")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "Time between sweeps (overrides config)")

	return cmd
}

// targetsOf maps configured providers to monitor targets. The config was
// validated on load, so unparsable entries cannot occur.
func targetsOf(cfg *config.Config) []monitor.Target {
	targets := make([]monitor.Target, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := pc.ProviderType()
		if err != nil {
			continue
		}
		targets = append(targets, monitor.Target{Type: p, ConfigPath: pc.ConfigPath})
	}
	return targets
}

func (a *app) runMonitor(cmd *cobra.Command, flags *monitorFlags) error {
	ctx := logging.IntoContext(cmd.Context(), a.logger)

	if flags.once {
		m, err := a.newMonitor(func() []monitor.Target { return targetsOf(a.config) }, a.config, flags)
		if err != nil {
			return err
		}
		sweepCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		report := m.Sweep(sweepCtx)
		if err := printReport(cmd, a.output, report); err != nil {
			return err
		}
		return report.Err()
	}

	manager, err := config.NewManager(a.configFile, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	cfg := manager.Get()
	targets := func() []monitor.Target { return targetsOf(manager.Get()) }
	m, err := a.newMonitor(targets, cfg, flags)
	if err != nil {
		return err
	}

	metrics.SetupMetrics(version.Version, version.GitSHA, metrics.ComponentMonitor)

	listen := cfg.Monitor.ListenAddr
	if flags.listen != "" {
		listen = flags.listen
	}
	server, checker := newMonitorServer(listen, m, targets, cfg.Monitor.StaleAfter)
	endpoints := &endpointChecks{checker: checker}
	updates := manager.Watch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next, ok := <-updates:
				if !ok {
					return nil
				}
				endpoints.sync(next)
				a.logger.V(1).Info("Applied configuration", "providers", len(next.Providers), "checks", checker.Names())
			}
		}
	})
	g.Go(func() error {
		a.logger.Info("Serving metrics and health", "addr", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return m.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newMonitorServer serves /metrics and the health endpoints. Readiness fails
// until a sweep has finished within staleAfter, and while targets is empty.
func newMonitorServer(listen string, m *monitor.Monitor, targets func() []monitor.Target, staleAfter time.Duration) (*http.Server, *health.HealthChecker) {
	checker := health.NewHealthChecker()
	checker.SetCacheTTL(0)
	checker.RegisterCheck("sweep", health.StalenessCheck(m.LastSweep, staleAfter))
	checker.RegisterCheck("targets", health.FunctionCheck(func() error {
		if len(targets()) == 0 {
			return errors.New("no providers configured")
		}
		return nil
	}))

	server, router := health.NewServer(listen, checker)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return server, checker
}

// endpointChecks keeps one reachability check per configured netcup account
// registered on checker. sync is called from a single goroutine.
type endpointChecks struct {
	checker *health.HealthChecker
	names   []string
}

// sync replaces the registered endpoint checks with those cfg calls for
func (e *endpointChecks) sync(cfg *config.Config) {
	for _, name := range e.names {
		e.checker.UnregisterCheck(name)
	}
	e.names = e.names[:0]

	for _, t := range targetsOf(cfg) {
		if t.Type != contracts.ProviderNetcup {
			continue
		}
		name := "endpoint:" + t.Type.String()
		if t.ConfigPath != "" {
			name += ":" + t.ConfigPath
		}
		e.checker.RegisterCheck(name, netcupEndpointCheck(t.ConfigPath))
		e.names = append(e.names, name)
	}
}

// netcupEndpointCheck dials the webservice host named by the credentials at
// path. Unreadable credentials make the check fail with the load error.
func netcupEndpointCheck(path string) health.Check {
	creds, err := netcup.LoadCredentials(path)
	if err != nil {
		return health.FunctionCheck(func() error { return err })
	}
	addr, err := dialAddress(creds.Endpoint)
	if err != nil {
		return health.FunctionCheck(func() error { return err })
	}
	return health.TCPCheck(addr)
}

// dialAddress returns host:port for an endpoint URL, defaulting the port
// from the scheme
func dialAddress(endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = scpapi.DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("invalid netcup endpoint %q", endpoint)
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func (a *app) newMonitor(targets func() []monitor.Target, cfg *config.Config, flags *monitorFlags) (*monitor.Monitor, error) {
	interval := cfg.Monitor.Interval
	if flags.interval > 0 {
		interval = flags.interval
	}
	return monitor.New(monitor.Options{
		Targets:        targets,
		Factory:        a.factory,
		Interval:       interval,
		MaxConcurrency: cfg.Monitor.MaxConcurrency,
		Logger:         a.logger,
	})
}

func reportRows(report *monitor.Report) []sweepRow {
	rows := make([]sweepRow, 0)
	for _, p := range report.Providers {
		if len(p.VMs) == 0 && p.Err != nil {
			rows = append(rows, sweepRow{Provider: p.Provider.String(), Error: p.Err.Error()})
			continue
		}
		for _, vm := range p.VMs {
			row := sweepRow{
				Provider: p.Provider.String(),
				ID:       vm.ID,
				Name:     vm.Name,
				State:    string(vm.State),
				Action:   string(vm.Action),
				Result:   vm.Result,
			}
			if vm.Err != nil {
				row.Error = vm.Err.Error()
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func printReport(cmd *cobra.Command, format string, report *monitor.Report) error {
	rows := reportRows(report)
	return render(cmd.OutOrStdout(), format, rows, func(p *tablePrinter) {
		p.row("PROVIDER", "NAME", "STATE", "ACTION", "RESULT")
		for _, r := range rows {
			result := r.Result
			if r.Error != "" {
				result = r.Error
			}
			p.row(r.Provider, orNone(r.Name), orNone(r.State), orNone(r.Action), orNone(result))
		}
	})
}
