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

// Package monitor keeps VMs powered on: every sweep enumerates the VMs of each
// configured provider and starts the ones that are STOPPED.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/metrics"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/tracing"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/registry"
)

const (
	// DefaultInterval is the pause between sweeps when none is configured
	DefaultInterval = 5 * time.Minute
	// DefaultMaxConcurrency bounds start calls in flight per provider
	DefaultMaxConcurrency = 4
)

// Target is one provider the monitor sweeps
type Target struct {
	Type       contracts.ProviderType
	ConfigPath string
}

// Factory builds a provider backend for a target
type Factory func(ctx context.Context, providerType contracts.ProviderType, configPath string) (contracts.Provider, error)

// Action is what a sweep did about one VM
type Action string

const (
	// ActionNone means the VM was not STOPPED and was left alone
	ActionNone Action = "none"
	// ActionStarted means a start call was accepted by the backend
	ActionStarted Action = "started"
	// ActionFailed means the start call returned an error
	ActionFailed Action = "failed"
	// ActionSkipped means the start was abandoned after a sibling failed
	ActionSkipped Action = "skipped"
)

// VMResult records the state of one VM and what the sweep did about it
type VMResult struct {
	ID    string          `json:"id" yaml:"id"`
	Name  string          `json:"name" yaml:"name"`
	State contracts.State `json:"state" yaml:"state"`
	// Action taken by the sweep
	Action Action `json:"action" yaml:"action"`
	// Result is the raw value returned by the start call
	Result string `json:"result,omitempty" yaml:"result,omitempty"`
	Err    error  `json:"-" yaml:"-"`
}

// ProviderReport holds the outcome of sweeping one provider
type ProviderReport struct {
	Provider contracts.ProviderType `json:"provider" yaml:"provider"`
	VMs      []VMResult             `json:"vms" yaml:"vms"`
	// Err is set when the provider could not be built or enumerated, or when
	// a start call failed
	Err error `json:"-" yaml:"-"`
}

// Report holds the outcome of one sweep, providers in target order
type Report struct {
	Sweep     int64            `json:"sweep" yaml:"sweep"`
	Started   time.Time        `json:"started" yaml:"started"`
	Finished  time.Time        `json:"finished" yaml:"finished"`
	Providers []ProviderReport `json:"providers" yaml:"providers"`
}

// Err joins the errors of every provider that failed
func (r *Report) Err() error {
	var errs []error
	for _, p := range r.Providers {
		if p.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Provider, p.Err))
		}
	}
	return errors.Join(errs...)
}

// Outcome classifies the sweep for metrics
func (r *Report) Outcome() string {
	failed := 0
	for _, p := range r.Providers {
		if p.Err != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		return metrics.OutcomeSuccess
	case failed == len(r.Providers):
		return metrics.OutcomeError
	default:
		return metrics.OutcomePartial
	}
}

// StartedCount returns how many VMs the sweep started
func (r *Report) StartedCount() int {
	n := 0
	for _, p := range r.Providers {
		for _, vm := range p.VMs {
			if vm.Action == ActionStarted {
				n++
			}
		}
	}
	return n
}

// Options configures a Monitor
type Options struct {
	// Targets returns the providers to sweep; it is consulted on every sweep
	// so configuration reloads take effect without a restart
	Targets func() []Target
	// Factory builds backends; registry.New when nil
	Factory Factory
	// Interval between sweeps in Run
	Interval time.Duration
	// MaxConcurrency bounds start calls in flight per provider
	MaxConcurrency int
	Logger         logr.Logger
}

// Monitor sweeps providers and starts stopped VMs
type Monitor struct {
	targets        func() []Target
	factory        Factory
	interval       time.Duration
	maxConcurrency int
	logger         logr.Logger

	sweeps atomic.Int64

	mu        sync.RWMutex
	lastSweep time.Time
	last      *Report
}

// New creates a monitor
func New(opts Options) (*Monitor, error) {
	if opts.Targets == nil {
		return nil, fmt.Errorf("monitor requires a target source")
	}

	m := &Monitor{
		targets:        opts.Targets,
		factory:        opts.Factory,
		interval:       opts.Interval,
		maxConcurrency: opts.MaxConcurrency,
		logger:         opts.Logger,
	}
	if m.factory == nil {
		m.factory = registry.New
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.maxConcurrency < 1 {
		m.maxConcurrency = DefaultMaxConcurrency
	}
	if m.logger.GetSink() == nil {
		m.logger = logging.Global()
	}
	m.logger = m.logger.WithName("monitor")

	return m, nil
}

// Run sweeps immediately and then on every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Starting monitor", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		report := m.Sweep(ctx)
		if err := report.Err(); err != nil && ctx.Err() == nil {
			m.logger.Error(err, "Sweep finished with errors", "sweep", report.Sweep)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over every target. Targets are swept concurrently and a
// failing target does not affect the others.
func (m *Monitor) Sweep(ctx context.Context) *Report {
	sweep := m.sweeps.Add(1)
	ctx = logging.WithSweep(ctx, sweep)
	ctx = logging.IntoContext(ctx, m.logger)

	ctx, span := tracing.StartSpan(ctx, tracing.SpanMonitorSweep)
	defer span.End()
	tracing.SetAttributes(ctx, tracing.AttrSweep.Int64(sweep))

	targets := m.targets()
	report := &Report{
		Sweep:     sweep,
		Started:   time.Now(),
		Providers: make([]ProviderReport, len(targets)),
	}

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			report.Providers[i] = m.sweepProvider(ctx, target)
		}(i, target)
	}
	wg.Wait()

	report.Finished = time.Now()
	outcome := report.Outcome()
	metrics.RecordSweep(outcome, report.Finished.Sub(report.Started))
	tracing.SetAttributes(ctx, tracing.AttrOutcome.String(outcome))
	if err := report.Err(); err != nil {
		tracing.RecordError(ctx, err)
	}

	m.mu.Lock()
	m.lastSweep = report.Finished
	m.last = report
	m.mu.Unlock()

	logging.FromContext(ctx).Info("Sweep finished",
		"providers", len(report.Providers),
		"started", report.StartedCount(),
		"outcome", outcome,
		"duration", report.Finished.Sub(report.Started))

	return report
}

func (m *Monitor) sweepProvider(ctx context.Context, target Target) ProviderReport {
	ctx = logging.WithProvider(ctx, target.Type.String())
	log := logging.FromContext(ctx)
	result := ProviderReport{Provider: target.Type}

	provider, err := m.build(ctx, target)
	if err != nil {
		log.Error(err, "Failed to create provider", "config", target.ConfigPath)
		metrics.RecordError("build", metrics.ComponentMonitor)
		result.Err = err
		return result
	}

	vms, err := provider.ListVMs(ctx)
	if err != nil {
		log.Error(err, "Failed to list VMs")
		metrics.RecordError("list", metrics.ComponentMonitor)
		result.Err = err
		return result
	}
	m.publishCounts(target.Type, vms)

	result.VMs = make([]VMResult, len(vms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrency)

	for i, vm := range vms {
		result.VMs[i] = VMResult{ID: vm.ID, Name: vm.Name(), State: vm.State, Action: ActionNone}
		if vm.State != contracts.StateStopped {
			log.V(1).Info("VM state", "name", vm.Name(), "state", vm.State)
			continue
		}
		if gctx.Err() != nil {
			result.VMs[i].Action = ActionSkipped
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				result.VMs[i].Action = ActionSkipped
				return nil
			}
			vctx := logging.WithVM(gctx, vm.ID)
			logging.FromContext(vctx).Info("VM not running, starting", "name", vm.Name())

			raw, err := provider.Start(vctx, vm)
			if err != nil {
				result.VMs[i].Action = ActionFailed
				result.VMs[i].Err = err
				return fmt.Errorf("start %s: %w", vm.Name(), err)
			}
			result.VMs[i].Action = ActionStarted
			result.VMs[i].Result = raw
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error(err, "Failed to start stopped VMs")
		metrics.RecordError("start", metrics.ComponentMonitor)
		result.Err = err
	}
	return result
}

// build constructs the backend. A factory panic is returned as a client error.
func (m *Monitor) build(ctx context.Context, target Target) (provider contracts.Provider, err error) {
	defer func() {
		if r := recover(); r != nil {
			provider = nil
			err = contracts.NewClientError(fmt.Sprintf("cannot build provider %s: %v", target.Type, r), nil)
		}
	}()
	return m.factory(ctx, target.Type, target.ConfigPath)
}

func (m *Monitor) publishCounts(provider contracts.ProviderType, vms []*contracts.VirtualMachine) {
	counts := map[contracts.State]int{
		contracts.StateRunning: 0,
		contracts.StateStopped: 0,
		contracts.StateUnknown: 0,
	}
	for _, vm := range vms {
		counts[vm.State]++
	}
	for state, n := range counts {
		metrics.SetVMCount(provider.String(), string(state), n)
	}
}

// LastSweep returns when the most recent sweep finished, or the zero time
func (m *Monitor) LastSweep() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSweep
}

// LastReport returns the report of the most recent sweep, or nil
func (m *Monitor) LastReport() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
