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
	"errors"
	"fmt"
)

// ErrorKind represents the category of error
type ErrorKind string

const (
	// ErrorKindClient indicates a local problem: configuration, credentials,
	// an unmapped VM state or a response that could not be understood.
	// Not retryable without operator intervention.
	ErrorKindClient ErrorKind = "ClientError"
	// ErrorKindProvider indicates the remote side rejected or failed the operation
	ErrorKindProvider ErrorKind = "ProviderError"
)

// Error is the only error type that crosses a provider boundary
type Error struct {
	// Kind categorizes the error
	Kind ErrorKind
	// Message describes the error, including any remote message verbatim
	Message string
	// Cause contains the underlying error, if any
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewClientError creates a client-level error
func NewClientError(message string, cause error) *Error {
	return &Error{
		Kind:    ErrorKindClient,
		Message: message,
		Cause:   cause,
	}
}

// NewProviderError creates a provider-level error
func NewProviderError(message string, cause error) *Error {
	return &Error{
		Kind:    ErrorKindProvider,
		Message: message,
		Cause:   cause,
	}
}

// IsClientError returns true if err is or wraps a client-level *Error
func IsClientError(err error) bool {
	return kindOf(err) == ErrorKindClient
}

// IsProviderError returns true if err is or wraps a provider-level *Error
func IsProviderError(err error) bool {
	return kindOf(err) == ErrorKindProvider
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
