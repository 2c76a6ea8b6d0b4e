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

package contracts

import (
	"context"
	"fmt"
)

// ProviderType identifies one of the supported IaaS backends
type ProviderType int

const (
	// ProviderOracle is the Oracle Cloud Infrastructure backend
	ProviderOracle ProviderType = iota + 1
	// ProviderNetcup is the netcup SCP webservice backend
	ProviderNetcup
)

var providerNames = map[ProviderType]string{
	ProviderOracle: "oracle",
	ProviderNetcup: "netcup",
}

// String returns the lower-case provider name
func (p ProviderType) String() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ProviderType(%d)", int(p))
}

// Valid reports whether p is a member of the enumeration
func (p ProviderType) Valid() bool {
	_, ok := providerNames[p]
	return ok
}

// ProviderTypes returns every supported provider in declaration order
func ProviderTypes() []ProviderType {
	return []ProviderType{ProviderOracle, ProviderNetcup}
}

// MarshalText encodes the provider as its name
func (p ProviderType) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid provider type %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a provider name
func (p *ProviderType) UnmarshalText(text []byte) error {
	parsed, err := ParseProviderType(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseProviderType converts a provider name to its ProviderType
func ParseProviderType(name string) (ProviderType, error) {
	for _, p := range ProviderTypes() {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, NewClientError(fmt.Sprintf("unsupported provider %q", name), nil)
}

// Provider defines the capability set every IaaS backend implements.
//
// Power operations return the raw result reported by the backend. For netcup
// that is the string "true" or "false", for oracle it is the lifecycle state
// after the action was accepted. Callers must not assume a boolean.
//
// All errors returned across this interface are *Error values of kind
// ErrorKindClient or ErrorKindProvider.
type Provider interface {
	// Type returns the backend that owns the VMs this provider returns
	Type() ProviderType

	// ListVMs enumerates every VM visible to the configured account.
	// Each call returns freshly constructed VirtualMachine values.
	ListVMs(ctx context.Context) ([]*VirtualMachine, error)

	// Stop asks the guest OS to shut down gracefully
	Stop(ctx context.Context, vm *VirtualMachine) (string, error)

	// ForceStop powers the VM off without involving the guest
	ForceStop(ctx context.Context, vm *VirtualMachine) (string, error)

	// Start powers the VM on
	Start(ctx context.Context, vm *VirtualMachine) (string, error)

	// Restart reboots the VM through the guest OS
	Restart(ctx context.Context, vm *VirtualMachine) (string, error)

	// PublicIPs returns the public addresses assigned to the VM
	PublicIPs(ctx context.Context, vm *VirtualMachine) ([]string, error)
}

// CheckOwnership returns a client error if vm was not produced by a backend of type p
func CheckOwnership(p ProviderType, vm *VirtualMachine) error {
	if vm == nil {
		return NewClientError("virtual machine is nil", nil)
	}
	if vm.Provider != p {
		return NewClientError(fmt.Sprintf("virtual machine %s belongs to provider %s, not %s", vm.ID, vm.Provider, p), nil)
	}
	return nil
}
