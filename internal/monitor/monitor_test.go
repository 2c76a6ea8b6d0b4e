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

package monitor

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/metrics"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/mock"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup/scpfake"
)

const (
	vmOnline  = "v2202301000000001"
	vmOffline = "v2202301000000002"
)

func targets(types ...contracts.ProviderType) func() []Target {
	return func() []Target {
		out := make([]Target, 0, len(types))
		for _, t := range types {
			out = append(out, Target{Type: t})
		}
		return out
	}
}

// vmGauge reads the per-state VM gauge from the default registry
func vmGauge(provider, state string) float64 {
	families, err := metrics.GetRegistry().Gather()
	Expect(err).NotTo(HaveOccurred())
	for _, family := range families {
		if family.GetName() != "iaas_monitor_vms" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["provider"] == provider && labels["state"] == state {
				return metric.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func findVM(report ProviderReport, id string) VMResult {
	for _, vm := range report.VMs {
		if vm.ID == id {
			return vm
		}
	}
	ginkgo.Fail("vm " + id + " not in report")
	return VMResult{}
}

var _ = ginkgo.Describe("Monitor", func() {
	var (
		fake    *scpfake.Server
		srv     *httptest.Server
		oracle  *mock.Provider
		factory Factory
	)

	ginkgo.BeforeEach(func() {
		fake = scpfake.NewServer()
		srv = httptest.NewServer(fake)
		ginkgo.DeferCleanup(srv.Close)

		oracle = mock.NewProvider(contracts.ProviderOracle)
		factory = func(ctx context.Context, providerType contracts.ProviderType, configPath string) (contracts.Provider, error) {
			switch providerType {
			case contracts.ProviderNetcup:
				return netcup.NewWithCredentials(netcup.Credentials{
					LoginName:      fake.Config().LoginName,
					Password:       fake.Config().Password,
					Endpoint:       srv.URL + scpfake.EndpointPath,
					RequestTimeout: 5 * time.Second,
				})
			case contracts.ProviderOracle:
				return oracle, nil
			}
			panic("unexpected provider")
		}
	})

	newMonitor := func(source func() []Target) *Monitor {
		m, err := New(Options{Targets: source, Factory: factory, Interval: 20 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	ginkgo.Describe("New", func() {
		ginkgo.It("should require a target source", func() {
			_, err := New(Options{})
			Expect(err).To(HaveOccurred())
		})

		ginkgo.It("should apply defaults", func() {
			m, err := New(Options{Targets: targets()})
			Expect(err).NotTo(HaveOccurred())
			Expect(m.interval).To(Equal(DefaultInterval))
			Expect(m.maxConcurrency).To(Equal(DefaultMaxConcurrency))
			Expect(m.factory).NotTo(BeNil())
		})
	})

	ginkgo.Describe("Sweep", func() {
		ginkgo.Context("with a netcup account", func() {
			ginkgo.It("should start stopped VMs and leave running ones alone", func() {
				m := newMonitor(targets(contracts.ProviderNetcup))

				report := m.Sweep(context.Background())
				Expect(report.Err()).NotTo(HaveOccurred())
				Expect(report.Outcome()).To(Equal(metrics.OutcomeSuccess))
				Expect(report.Providers).To(HaveLen(1))

				netcupReport := report.Providers[0]
				Expect(netcupReport.Provider).To(Equal(contracts.ProviderNetcup))
				Expect(netcupReport.VMs).To(HaveLen(2))

				running := findVM(netcupReport, vmOnline)
				Expect(running.Name).To(Equal("web"))
				Expect(running.State).To(Equal(contracts.StateRunning))
				Expect(running.Action).To(Equal(ActionNone))

				stopped := findVM(netcupReport, vmOffline)
				Expect(stopped.Name).To(Equal(vmOffline))
				Expect(stopped.State).To(Equal(contracts.StateStopped))
				Expect(stopped.Action).To(Equal(ActionStarted))
				Expect(stopped.Result).To(Equal("true"))

				vs, ok := fake.VServer(vmOffline)
				Expect(ok).To(BeTrue())
				Expect(vs.State).To(Equal(scpfake.StateOnline))
				Expect(fake.Calls("vServerStart")).To(Equal(1))
				Expect(report.StartedCount()).To(Equal(1))
			})

			ginkgo.It("should publish VM counts by state", func() {
				m := newMonitor(targets(contracts.ProviderNetcup))
				m.Sweep(context.Background())

				Expect(vmGauge("netcup", "RUNNING")).To(Equal(1.0))
				Expect(vmGauge("netcup", "STOPPED")).To(Equal(1.0))
				Expect(vmGauge("netcup", "UNKNOWN")).To(Equal(0.0))
			})

			ginkgo.It("should not start anything when all VMs run", func() {
				fake.SetState(vmOffline, scpfake.StateOnline)
				m := newMonitor(targets(contracts.ProviderNetcup))

				report := m.Sweep(context.Background())
				Expect(report.Err()).NotTo(HaveOccurred())
				Expect(report.StartedCount()).To(BeZero())
				Expect(fake.Calls("vServerStart")).To(BeZero())
			})

			ginkgo.It("should report a failed start as a provider error", func() {
				fake.SetFault("vServerStart", "internal error")
				m := newMonitor(targets(contracts.ProviderNetcup))

				report := m.Sweep(context.Background())
				Expect(report.Outcome()).To(Equal(metrics.OutcomeError))

				netcupReport := report.Providers[0]
				Expect(contracts.IsProviderError(netcupReport.Err)).To(BeTrue())
				Expect(findVM(netcupReport, vmOffline).Action).To(Equal(ActionFailed))
				Expect(findVM(netcupReport, vmOnline).Action).To(Equal(ActionNone))
			})

			ginkgo.It("should stop starting VMs after the first failure", func() {
				fake.RemoveAll()
				for _, name := range []string{"v1", "v2", "v3", "v4", "v5", "v6"} {
					fake.AddVServer(scpfake.VServer{Name: name, State: scpfake.StateOffline})
				}
				fake.SetFault("vServerStart", "internal error")

				m, err := New(Options{Targets: targets(contracts.ProviderNetcup), Factory: factory, MaxConcurrency: 1})
				Expect(err).NotTo(HaveOccurred())

				report := m.Sweep(context.Background())
				netcupReport := report.Providers[0]
				Expect(netcupReport.Err).To(HaveOccurred())
				Expect(fake.Calls("vServerStart")).To(Equal(1))

				actions := map[Action]int{}
				for _, vm := range netcupReport.VMs {
					actions[vm.Action]++
				}
				Expect(actions[ActionFailed]).To(Equal(1))
				Expect(actions[ActionSkipped]).To(Equal(5))
			})
		})

		ginkgo.Context("with several providers", func() {
			ginkgo.It("should sweep every provider in target order", func() {
				m := newMonitor(targets(contracts.ProviderOracle, contracts.ProviderNetcup))
				report := m.Sweep(context.Background())

				Expect(report.Err()).NotTo(HaveOccurred())
				Expect(report.Providers).To(HaveLen(2))
				Expect(report.Providers[0].Provider).To(Equal(contracts.ProviderOracle))
				Expect(report.Providers[1].Provider).To(Equal(contracts.ProviderNetcup))

				started := findVM(report.Providers[0], "oracle-vm-2")
				Expect(started.Action).To(Equal(ActionStarted))
				Expect(started.Result).To(Equal("STARTING"))
				Expect(oracle.Calls(mock.OpStart)).To(Equal(1))
				Expect(report.StartedCount()).To(Equal(2))
			})

			ginkgo.It("should keep sweeping when one provider fails to enumerate", func() {
				oracle.SetFailureMode(mock.OpList)

				m := newMonitor(targets(contracts.ProviderOracle, contracts.ProviderNetcup))
				report := m.Sweep(context.Background())

				Expect(report.Outcome()).To(Equal(metrics.OutcomePartial))
				Expect(report.Err()).To(MatchError(ContainSubstring("fail list operations")))
				Expect(contracts.IsProviderError(report.Providers[0].Err)).To(BeTrue())
				Expect(report.Providers[0].VMs).To(BeEmpty())
				Expect(report.Providers[1].Err).NotTo(HaveOccurred())
				Expect(findVM(report.Providers[1], vmOffline).Action).To(Equal(ActionStarted))
			})

			ginkgo.It("should keep sweeping when one provider cannot be built", func() {
				build := factory
				factory = func(ctx context.Context, providerType contracts.ProviderType, configPath string) (contracts.Provider, error) {
					if providerType == contracts.ProviderOracle {
						return nil, contracts.NewClientError("config file not found", nil)
					}
					return build(ctx, providerType, configPath)
				}

				m := newMonitor(targets(contracts.ProviderOracle, contracts.ProviderNetcup))
				report := m.Sweep(context.Background())

				Expect(contracts.IsClientError(report.Providers[0].Err)).To(BeTrue())
				Expect(report.Providers[1].Err).NotTo(HaveOccurred())
				Expect(report.StartedCount()).To(Equal(1))
			})

			ginkgo.It("should turn a factory panic into a client error", func() {
				m := newMonitor(targets(contracts.ProviderType(42)))
				report := m.Sweep(context.Background())

				Expect(contracts.IsClientError(report.Providers[0].Err)).To(BeTrue())
			})
		})

		ginkgo.It("should consult the target source on every sweep", func() {
			var current atomic.Value
			current.Store([]Target{{Type: contracts.ProviderOracle}})
			m := newMonitor(func() []Target { return current.Load().([]Target) })

			Expect(m.Sweep(context.Background()).Providers[0].Provider).To(Equal(contracts.ProviderOracle))

			current.Store([]Target{{Type: contracts.ProviderNetcup}})
			Expect(m.Sweep(context.Background()).Providers[0].Provider).To(Equal(contracts.ProviderNetcup))
		})

		ginkgo.It("should number sweeps and remember the last one", func() {
			m := newMonitor(targets(contracts.ProviderOracle))
			Expect(m.LastSweep().IsZero()).To(BeTrue())
			Expect(m.LastReport()).To(BeNil())

			first := m.Sweep(context.Background())
			second := m.Sweep(context.Background())

			Expect(first.Sweep).To(Equal(int64(1)))
			Expect(second.Sweep).To(Equal(int64(2)))
			Expect(m.LastReport()).To(BeIdenticalTo(second))
			Expect(m.LastSweep()).To(Equal(second.Finished))
		})
	})

	ginkgo.Describe("Run", func() {
		ginkgo.It("should sweep repeatedly until cancelled", func() {
			m := newMonitor(targets(contracts.ProviderNetcup))
			ctx, cancel := context.WithCancel(context.Background())

			done := make(chan error, 1)
			go func() { done <- m.Run(ctx) }()

			Eventually(func() int64 {
				if r := m.LastReport(); r != nil {
					return r.Sweep
				}
				return 0
			}, 5*time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 3))

			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			Expect(fake.Calls("vServerStart")).To(Equal(1))
		})
	})
})
