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

import "fmt"

// VirtualMachine describes one remote compute instance (provider-agnostic).
// Values are built by NewVirtualMachine on every enumeration and are not
// shared between calls.
type VirtualMachine struct {
	// ID is the provider-native identifier
	ID string `json:"id" yaml:"id"`
	// DisplayName is the human label, may be empty
	DisplayName string `json:"displayName" yaml:"displayName"`
	// State is always one of the canonical states
	State State `json:"state" yaml:"state"`
	// Provider is the backend that owns this VM
	Provider ProviderType `json:"-" yaml:"-"`
}

// NewVirtualMachine builds a VirtualMachine, normalizing rawState on the way.
// It fails with a client error when rawState is not in the state table.
func NewVirtualMachine(id, displayName, rawState string, provider ProviderType) (*VirtualMachine, error) {
	if !provider.Valid() {
		return nil, NewClientError(fmt.Sprintf("virtual machine %s has invalid provider %s", id, provider), nil)
	}

	state, err := NormalizeState(rawState)
	if err != nil {
		return nil, err
	}

	return &VirtualMachine{
		ID:          id,
		DisplayName: displayName,
		State:       state,
		Provider:    provider,
	}, nil
}

// Name returns the display name, or the ID when no display name is set
func (vm *VirtualMachine) Name() string {
	if vm.DisplayName != "" {
		return vm.DisplayName
	}
	return vm.ID
}

// String implements fmt.Stringer
func (vm *VirtualMachine) String() string {
	return fmt.Sprintf("%s/%s (%s)", vm.Provider, vm.Name(), vm.State)
}
