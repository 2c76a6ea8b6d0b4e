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

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/metrics"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/tracing"
	"github.com/dom-porter/iaas-provider-lib/internal/util/closer"
)

const (
	// DefaultEndpoint is the production end user webservice URL
	DefaultEndpoint = "https://www.servercontrolpanel.de:443/SCP/WSEndUser"
	// DefaultRequestTimeout bounds every call, including reading the body
	DefaultRequestTimeout = 30 * time.Second

	contentType = "text/xml"

	// providerLabel tags metrics and spans emitted by this client
	providerLabel = "netcup"

	// maxResponseBytes caps how much of a response body is read
	maxResponseBytes = 8 << 20
)

// Result codes recorded per call
const (
	codeOK        = "ok"
	codeTransport = "transport"
	codeMalformed = "malformed"
	codeInvalid   = "invalid_request"
)

// Config holds the webservice client configuration
type Config struct {
	Endpoint       string
	LoginName      string
	Password       string
	RequestTimeout time.Duration
	// HTTPClient overrides the client built from RequestTimeout
	HTTPClient *http.Client
}

// Client talks to the end user webservice. It holds no mutable state and is
// safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	endpoint   string
}

// TransportError wraps failures to deliver a request or read its response
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewClient creates a new webservice client
func NewClient(config Config) (*Client, error) {
	if config.LoginName == "" {
		return nil, fmt.Errorf("loginName is required")
	}
	if config.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint URL %q: scheme must be http or https", config.Endpoint)
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		endpoint:   endpoint.String(),
	}, nil
}

// Endpoint returns the URL requests are posted to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Post sends one envelope and returns the raw response body. The HTTP status
// code is not inspected: faults arrive in the body, whatever the status.
func (c *Client) Post(ctx context.Context, operation string, envelope []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Operation: operation, Err: err}
	}
	defer closer.CloseQuietly(resp.Body, logging.FromContext(ctx), "response body")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Operation: operation, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return body, nil
}

// Call builds the envelope for operation, posts it and parses the reply.
// Errors are *Fault, *TransportError, or wrap ErrMalformedResponse.
func (c *Client) Call(ctx context.Context, operation string, params ...Param) (*Response, error) {
	ctx, span := tracing.StartCallSpan(ctx, operation, providerLabel)
	defer span.End()
	timer := metrics.NewCallTimer(providerLabel, operation)

	log := logging.FromContext(ctx).WithValues("call", operation)

	envelope, err := BuildEnvelope(operation, params)
	if err != nil {
		timer.Finish(codeInvalid)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	log.V(2).Info("Sending request", "endpoint", c.endpoint, "envelope", logging.RedactString(string(envelope)))

	body, err := c.Post(ctx, operation, envelope)
	if err != nil {
		timer.Finish(codeTransport)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	log.V(2).Info("Received response", "bytes", len(body), "body", logging.RedactString(string(body)))

	resp, err := ParseResponse(body)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			timer.Finish("fault_" + string(fault.Kind))
			tracing.SetAttributes(ctx, tracing.AttrFaultKind.String(string(fault.Kind)))
		} else {
			timer.Finish(codeMalformed)
		}
		tracing.RecordError(ctx, err)
		log.V(1).Info("Call failed", "error", err.Error())
		return nil, err
	}

	timer.Finish(codeOK)
	return resp, nil
}

// credentialParams returns the login parameters followed by extra
func (c *Client) credentialParams(extra ...Param) []Param {
	return append(credentials(c.config.LoginName, c.config.Password), extra...)
}
