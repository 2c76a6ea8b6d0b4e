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

// Package mock provides an in-memory provider for tests and demos.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
)

// Operations accepted by FailureMode, besides "all"
const (
	OpList      = "list"
	OpStart     = "start"
	OpStop      = "stop"
	OpForceStop = "force-stop"
	OpRestart   = "restart"
	OpPublicIPs = "ips"
)

// VirtualMachine represents a mock virtual machine
type VirtualMachine struct {
	ID          string
	Name        string
	Running     bool
	IPs         []string
	LastUpdated time.Time
}

// Provider implements contracts.Provider in memory. It reports raw states in
// the vocabulary of the backend it impersonates.
type Provider struct {
	mu          sync.RWMutex
	kind        contracts.ProviderType
	vms         map[string]*VirtualMachine
	order       []string
	calls       map[string]int
	failureMode string
	slowMode    bool
}

var _ contracts.Provider = (*Provider)(nil)

// NewProvider creates a mock impersonating kind, seeded with sample VMs.
// MOCK_FAILURE_MODE names an operation (or "all") that fails with a provider
// error; MOCK_SLOW_MODE=true adds latency to every call.
func NewProvider(kind contracts.ProviderType) *Provider {
	p := &Provider{
		kind:        kind,
		vms:         make(map[string]*VirtualMachine),
		calls:       make(map[string]int),
		failureMode: os.Getenv("MOCK_FAILURE_MODE"),
		slowMode:    os.Getenv("MOCK_SLOW_MODE") == "true",
	}

	p.createSampleVMs()

	return p
}

// createSampleVMs creates some sample VMs for demonstration
func (p *Provider) createSampleVMs() {
	sampleVMs := []struct {
		name    string
		running bool
		ips     []string
	}{
		{"demo-vm-1", true, []string{"192.0.2.10"}},
		{"demo-vm-2", false, nil},
		{"demo-vm-3", true, []string{"192.0.2.12", "198.51.100.5"}},
	}

	for i, vm := range sampleVMs {
		p.AddVM(VirtualMachine{
			ID:      fmt.Sprintf("%s-vm-%d", p.kind, i+1),
			Name:    vm.name,
			Running: vm.running,
			IPs:     vm.ips,
		})
	}
}

// AddVM adds or replaces a VM. New IDs are appended to the listing order.
func (p *Provider) AddVM(vm VirtualMachine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.vms[vm.ID]; !exists {
		p.order = append(p.order, vm.ID)
	}
	copied := vm
	copied.IPs = append([]string(nil), vm.IPs...)
	copied.LastUpdated = time.Now()
	p.vms[vm.ID] = &copied
}

// RemoveAll deletes every VM
func (p *Provider) RemoveAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vms = make(map[string]*VirtualMachine)
	p.order = nil
}

// VM returns a copy of the VM with the given ID
func (p *Provider) VM(id string) (VirtualMachine, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	vm, ok := p.vms[id]
	if !ok {
		return VirtualMachine{}, false
	}
	return *vm, true
}

// SetFailureMode makes operation, or every operation for "all", fail.
// An empty mode clears it.
func (p *Provider) SetFailureMode(mode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureMode = mode
}

// Calls returns how many times operation was invoked
func (p *Provider) Calls(operation string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[operation]
}

// Type returns the impersonated backend
func (p *Provider) Type() contracts.ProviderType {
	return p.kind
}

// ListVMs returns fresh values for every VM in listing order
func (p *Provider) ListVMs(ctx context.Context) ([]*contracts.VirtualMachine, error) {
	if err := p.enter(ctx, OpList); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vms := make([]*contracts.VirtualMachine, 0, len(p.order))
	for _, id := range p.order {
		vm := p.vms[id]
		converted, err := contracts.NewVirtualMachine(vm.ID, vm.Name, p.rawState(vm.Running), p.kind)
		if err != nil {
			return nil, err
		}
		vms = append(vms, converted)
	}
	return vms, nil
}

// Start powers the VM on
func (p *Provider) Start(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, OpStart, vm, true, "STARTING")
}

// Stop powers the VM off
func (p *Provider) Stop(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, OpStop, vm, false, "STOPPING")
}

// ForceStop powers the VM off
func (p *Provider) ForceStop(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, OpForceStop, vm, false, "STOPPING")
}

// Restart leaves the VM running
func (p *Provider) Restart(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, OpRestart, vm, true, "RUNNING")
}

// PublicIPs returns the VM's addresses, none while it is stopped
func (p *Provider) PublicIPs(ctx context.Context, vm *contracts.VirtualMachine) ([]string, error) {
	if err := contracts.CheckOwnership(p.kind, vm); err != nil {
		return nil, err
	}
	if err := p.enter(ctx, OpPublicIPs); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	stored, ok := p.vms[vm.ID]
	if !ok {
		return nil, contracts.NewClientError(fmt.Sprintf("no VM %s", vm.ID), nil)
	}
	if !stored.Running {
		return []string{}, nil
	}
	ips := append([]string(nil), stored.IPs...)
	sort.Strings(ips)
	return ips, nil
}

// power switches the VM and returns the backend-style result: the lifecycle
// state for oracle, "true" for netcup
func (p *Provider) power(ctx context.Context, operation string, vm *contracts.VirtualMachine, running bool, lifecycle string) (string, error) {
	if err := contracts.CheckOwnership(p.kind, vm); err != nil {
		return "", err
	}
	if err := p.enter(ctx, operation); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.vms[vm.ID]
	if !ok {
		return "", contracts.NewClientError(fmt.Sprintf("no VM %s", vm.ID), nil)
	}
	stored.Running = running
	stored.LastUpdated = time.Now()

	if p.kind == contracts.ProviderNetcup {
		return "true", nil
	}
	return lifecycle, nil
}

// enter counts the call, applies slow mode and failure injection
func (p *Provider) enter(ctx context.Context, operation string) error {
	p.mu.Lock()
	p.calls[operation]++
	fail := p.failureMode == operation || p.failureMode == "all"
	slow := p.slowMode
	p.mu.Unlock()

	if slow {
		delay := time.Duration(rand.Intn(500)+100) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return contracts.NewProviderError(fmt.Sprintf("mock %s cancelled", operation), ctx.Err())
		}
	}
	if fail {
		return contracts.NewProviderError(fmt.Sprintf("mock provider configured to fail %s operations", operation), nil)
	}
	return nil
}

func (p *Provider) rawState(running bool) string {
	switch {
	case p.kind == contracts.ProviderNetcup && running:
		return "online"
	case p.kind == contracts.ProviderNetcup:
		return "offline"
	case running:
		return string(contracts.StateRunning)
	default:
		return string(contracts.StateStopped)
	}
}
