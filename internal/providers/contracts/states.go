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

// State is the canonical lifecycle state of a VM
type State string

const (
	// StateRunning indicates the VM is powered on
	StateRunning State = "RUNNING"
	// StateStopped indicates the VM is powered off
	StateStopped State = "STOPPED"
	// StateUnknown indicates the backend reported a state that is known but
	// does not settle on running or stopped
	StateUnknown State = "UNKNOWN"
)

// Valid reports whether s is one of the canonical states
func (s State) Valid() bool {
	switch s {
	case StateRunning, StateStopped, StateUnknown:
		return true
	}
	return false
}

// rawStates maps every raw lifecycle string a backend is known to emit to a
// canonical state. Lookups are case-sensitive. The backends use disjoint
// vocabularies, so the raw string alone identifies the mapping.
var rawStates = map[string]State{
	// Oracle Cloud
	"RUNNING": StateRunning,
	"STOPPED": StateStopped,
	// Oracle Cloud transitional and terminal states
	"PROVISIONING":   StateUnknown,
	"STARTING":       StateUnknown,
	"STOPPING":       StateUnknown,
	"CREATING_IMAGE": StateUnknown,
	"MOVING":         StateUnknown,
	"TERMINATING":    StateUnknown,
	"TERMINATED":     StateUnknown,

	// netcup
	"online":  StateRunning,
	"offline": StateStopped,

	// No state reported at all
	"": StateUnknown,
}

// NormalizeState maps a raw provider state to its canonical value.
// Strings missing from the table are a client error, never StateUnknown.
func NormalizeState(raw string) (State, error) {
	state, ok := rawStates[raw]
	if !ok {
		return "", NewClientError(fmt.Sprintf("unknown VM state %q returned by provider", raw), nil)
	}
	return state, nil
}
