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

package scpapi

// FaultKind is the classification of a webservice fault
type FaultKind string

const (
	// FaultValidation means the webservice rejected the request arguments or credentials
	FaultValidation FaultKind = "Validation"
	// FaultNotAllowed means the action is not permitted in the current VM state
	FaultNotAllowed FaultKind = "NotAllowed"
	// FaultService is any other fault reported by the webservice
	FaultService FaultKind = "Service"
)

// Fault is returned when a response carries a faultstring element
type Fault struct {
	Kind FaultKind
	// Text is the faultstring content, verbatim
	Text string
}

// Error implements the error interface
func (f *Fault) Error() string {
	if f.Kind == FaultService {
		return "Error processing request - " + f.Text
	}
	return f.Text
}

// faultKinds holds the fault texts with a dedicated kind. Matching is exact
// and case-sensitive.
var faultKinds = map[string]FaultKind{
	"validation error":   FaultValidation,
	"action not allowed": FaultNotAllowed,
}

// ClassifyFault maps a faultstring to a Fault. It never returns nil.
func ClassifyFault(text string) *Fault {
	kind, ok := faultKinds[text]
	if !ok {
		kind = FaultService
	}
	return &Fault{Kind: kind, Text: text}
}

// String implements fmt.Stringer
func (k FaultKind) String() string {
	return string(k)
}
