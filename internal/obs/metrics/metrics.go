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

package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Build information
	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iaas_build_info",
			Help: "Build information for iaas components",
		},
		[]string{"version", "git_sha", "go_version", "component"},
	)

	// VM operation metrics
	vmOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iaas_vm_operations_total",
			Help: "Total number of VM operations by operation, provider, and outcome",
		},
		[]string{"operation", "provider", "outcome"},
	)

	// Provider call metrics, one observation per wire request
	providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iaas_provider_calls_total",
			Help: "Total number of remote provider calls by provider, method, and code",
		},
		[]string{"provider", "method", "code"},
	)

	providerCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iaas_provider_call_latency_seconds",
			Help:    "Latency of remote provider calls by provider and method",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"provider", "method"},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iaas_errors_total",
			Help: "Total number of errors by kind and component",
		},
		[]string{"kind", "component"},
	)

	// IP discovery metrics
	ipDiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iaas_ip_discovery_duration_seconds",
			Help:    "Duration of public IP discovery by provider",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~50s
		},
		[]string{"provider"},
	)

	// Monitor metrics
	monitorSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iaas_monitor_sweeps_total",
			Help: "Total number of monitor sweeps by outcome",
		},
		[]string{"outcome"},
	)

	monitorSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iaas_monitor_sweep_duration_seconds",
			Help:    "Duration of monitor sweeps",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		},
	)

	monitorVMs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iaas_monitor_vms",
			Help: "Number of VMs seen by the last sweep by provider and state",
		},
		[]string{"provider", "state"},
	)
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomePartial = "partial"
)

// VM Operations
const (
	OpList      = "List"
	OpStart     = "Start"
	OpStop      = "Stop"
	OpForceStop = "ForceStop"
	OpRestart   = "Restart"
	OpReset     = "Reset"
	OpPublicIPs = "PublicIPs"
)

// Components
const (
	ComponentProvider = "provider"
	ComponentMonitor  = "monitor"
	ComponentCLI      = "cli"
)

// SetupMetrics initializes metrics with build information
func SetupMetrics(version, gitSHA, component string) {
	buildInfo.WithLabelValues(version, gitSHA, runtime.Version(), component).Set(1)
}

// VMOperationMetrics provides metrics for VM operations
type VMOperationMetrics struct {
	provider string
}

// NewVMOperationMetrics creates metrics for VM operations
func NewVMOperationMetrics(provider string) *VMOperationMetrics {
	return &VMOperationMetrics{provider: provider}
}

// RecordOperation records a VM operation with its outcome
func (m *VMOperationMetrics) RecordOperation(operation, outcome string) {
	vmOperationsTotal.WithLabelValues(operation, m.provider, outcome).Inc()
}

// Observe records operation with an outcome derived from err
func (m *VMOperationMetrics) Observe(operation string, err error) {
	if err != nil {
		m.RecordOperation(operation, OutcomeError)
		return
	}
	m.RecordOperation(operation, OutcomeSuccess)
}

// ProviderCallMetrics provides metrics for remote provider calls
type ProviderCallMetrics struct {
	provider string
}

// NewProviderCallMetrics creates metrics for remote provider calls
func NewProviderCallMetrics(provider string) *ProviderCallMetrics {
	return &ProviderCallMetrics{provider: provider}
}

// RecordCall records a call with its method, result code, and duration
func (m *ProviderCallMetrics) RecordCall(method, code string, duration time.Duration) {
	providerCallsTotal.WithLabelValues(m.provider, method, code).Inc()
	providerCallLatency.WithLabelValues(m.provider, method).Observe(duration.Seconds())
}

// RecordError records an error with its kind and component
func RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// RecordIPDiscovery records IP discovery duration
func RecordIPDiscovery(provider string, duration time.Duration) {
	ipDiscoveryDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSweep records a finished monitor sweep
func RecordSweep(outcome string, duration time.Duration) {
	monitorSweepsTotal.WithLabelValues(outcome).Inc()
	monitorSweepDuration.Observe(duration.Seconds())
}

// SetVMCount publishes how many VMs a provider reported in a given state
func SetVMCount(provider, state string, count int) {
	monitorVMs.WithLabelValues(provider, state).Set(float64(count))
}

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// CallTimer is a helper for measuring remote provider calls
type CallTimer struct {
	metrics *ProviderCallMetrics
	method  string
	timer   *Timer
}

// NewCallTimer creates a timer for a remote provider call
func NewCallTimer(provider, method string) *CallTimer {
	return &CallTimer{
		metrics: NewProviderCallMetrics(provider),
		method:  method,
		timer:   NewTimer(),
	}
}

// Finish records the call with the given result code
func (ct *CallTimer) Finish(code string) {
	ct.metrics.RecordCall(ct.method, code, ct.timer.Duration())
}

// GetRegistry returns the Prometheus gatherer all metrics are registered with
func GetRegistry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
