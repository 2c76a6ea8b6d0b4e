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

// Package netcup implements the provider contract on top of the netcup
// end user webservice.
package netcup

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/metrics"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/tracing"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup/scpapi"
)

// DefaultMaxConcurrency is the number of VMs described in parallel during ListVMs
const DefaultMaxConcurrency = 4

// Provider implements contracts.Provider for netcup
type Provider struct {
	client         *scpapi.Client
	maxConcurrency int
	metrics        *metrics.VMOperationMetrics
}

var _ contracts.Provider = (*Provider)(nil)

type options struct {
	maxConcurrency int
	httpClient     *http.Client
}

// Option configures a Provider
type Option func(*options)

// WithMaxConcurrency bounds how many VMs ListVMs describes at once. With n=1
// every remote call is issued sequentially, including the nickname and state
// lookups for a single VM.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithHTTPClient replaces the HTTP client used for webservice calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New loads credentials from configPath, or DefaultConfigPath when empty,
// and returns a provider bound to them
func New(configPath string, opts ...Option) (*Provider, error) {
	creds, err := LoadCredentials(configPath)
	if err != nil {
		return nil, err
	}
	return NewWithCredentials(*creds, opts...)
}

// NewWithCredentials returns a provider for already loaded credentials
func NewWithCredentials(creds Credentials, opts ...Option) (*Provider, error) {
	o := &options{maxConcurrency: DefaultMaxConcurrency}
	for _, opt := range opts {
		opt(o)
	}

	client, err := scpapi.NewClient(scpapi.Config{
		Endpoint:       creds.Endpoint,
		LoginName:      creds.LoginName,
		Password:       creds.Password,
		RequestTimeout: creds.RequestTimeout,
		HTTPClient:     o.httpClient,
	})
	if err != nil {
		return nil, contracts.NewClientError("invalid netcup configuration", err)
	}

	return &Provider{
		client:         client,
		maxConcurrency: o.maxConcurrency,
		metrics:        metrics.NewVMOperationMetrics(contracts.ProviderNetcup.String()),
	}, nil
}

// Type returns contracts.ProviderNetcup
func (p *Provider) Type() contracts.ProviderType {
	return contracts.ProviderNetcup
}

// ListVMs fetches every vserver name, then its nickname and state. The result
// keeps the order of the name listing. The first failure cancels the
// remaining lookups and no partial list is returned.
func (p *Provider) ListVMs(ctx context.Context) (vms []*contracts.VirtualMachine, err error) {
	ctx, span := p.begin(ctx, metrics.OpList)
	defer span.End()
	defer func() { p.finish(ctx, metrics.OpList, err) }()

	names, err := p.client.GetVServers(ctx)
	if err != nil {
		return nil, translate("listing VMs", err)
	}

	vms = make([]*contracts.VirtualMachine, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)
	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			vm, err := p.describe(gctx, name)
			if err != nil {
				return err
			}
			vms[i] = vm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, translate("listing VMs", err)
	}
	// Cancellation can stop the loop before any lookup fails
	if err := ctx.Err(); err != nil {
		return nil, translate("listing VMs", err)
	}

	logging.FromContext(ctx).V(1).Info("Listed VMs", "count", len(vms))
	return vms, nil
}

// describe fetches nickname and state for one vserver and builds the VM
func (p *Provider) describe(ctx context.Context, name string) (*contracts.VirtualMachine, error) {
	var nickname, state string

	if p.maxConcurrency == 1 {
		var err error
		if nickname, err = p.client.GetVServerNickname(ctx, name); err != nil {
			return nil, err
		}
		if state, err = p.client.GetVServerState(ctx, name); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			nickname, err = p.client.GetVServerNickname(gctx, name)
			return err
		})
		g.Go(func() error {
			var err error
			state, err = p.client.GetVServerState(gctx, name)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return contracts.NewVirtualMachine(name, nickname, state, contracts.ProviderNetcup)
}

// Stop asks the guest to shut down through ACPI
func (p *Provider) Stop(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, metrics.OpStop, "stopping VM", vm, p.client.VServerACPIShutdown)
}

// ForceStop powers the vserver off
func (p *Provider) ForceStop(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, metrics.OpForceStop, "force stopping VM", vm, p.client.VServerPoweroff)
}

// Start powers the vserver on
func (p *Provider) Start(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, metrics.OpStart, "starting VM", vm, p.client.VServerStart)
}

// Restart asks the guest to reboot through ACPI
func (p *Provider) Restart(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, metrics.OpRestart, "restarting VM", vm, p.client.VServerACPIReboot)
}

// Reset hard resets the vserver. It is not part of contracts.Provider.
func (p *Provider) Reset(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.power(ctx, metrics.OpReset, "resetting VM", vm, p.client.VServerReset)
}

// PublicIPs returns every address the webservice reports for the vserver
func (p *Provider) PublicIPs(ctx context.Context, vm *contracts.VirtualMachine) (ips []string, err error) {
	if err := contracts.CheckOwnership(p.Type(), vm); err != nil {
		return nil, err
	}

	ctx = logging.WithVM(ctx, vm.ID)
	ctx, span := p.begin(ctx, metrics.OpPublicIPs)
	defer span.End()
	defer func() { p.finish(ctx, metrics.OpPublicIPs, err) }()

	timer := metrics.NewTimer()
	ips, err = p.client.GetVServerIPs(ctx, vm.ID)
	if err != nil {
		return nil, translate("getting list of IPs", err)
	}
	metrics.RecordIPDiscovery(p.Type().String(), timer.Duration())

	return ips, nil
}

// power runs a single-result webservice operation against vm
func (p *Provider) power(ctx context.Context, operation, action string, vm *contracts.VirtualMachine,
	call func(context.Context, string) (string, error)) (result string, err error) {
	if err := contracts.CheckOwnership(p.Type(), vm); err != nil {
		return "", err
	}

	ctx = logging.WithVM(ctx, vm.ID)
	ctx, span := p.begin(ctx, operation)
	defer span.End()
	defer func() { p.finish(ctx, operation, err) }()

	result, err = call(ctx, vm.ID)
	if err != nil {
		return "", translate(action, err)
	}

	logging.FromContext(ctx).Info("Power operation accepted", "result", result)
	return result, nil
}

func (p *Provider) begin(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx = logging.WithProvider(ctx, p.Type().String())
	ctx = logging.WithOperation(ctx, operation)
	return tracing.StartProviderSpan(ctx, operation, p.Type().String())
}

func (p *Provider) finish(ctx context.Context, operation string, err error) {
	p.metrics.Observe(operation, err)
	if err != nil {
		tracing.RecordError(ctx, err)
		var cerr *contracts.Error
		if errors.As(err, &cerr) {
			metrics.RecordError(string(cerr.Kind), metrics.ComponentProvider)
		}
		logging.FromContext(ctx).Error(err, "Operation failed")
	}
}

// translate converts webservice errors into the public error kinds.
// A validation fault points at the caller's credentials or arguments, the
// other faults are the remote side refusing. The fault itself is not kept
// as the cause, only its text.
func translate(action string, err error) error {
	var cerr *contracts.Error
	if errors.As(err, &cerr) {
		return cerr
	}

	var fault *scpapi.Fault
	if errors.As(err, &fault) {
		switch fault.Kind {
		case scpapi.FaultValidation:
			return contracts.NewClientError(fmt.Sprintf("netcup API error %s, check that login details and VM name are correct - %s", action, fault.Error()), nil)
		case scpapi.FaultNotAllowed:
			return contracts.NewProviderError(fmt.Sprintf("netcup API refused %s - %s", action, fault.Error()), nil)
		default:
			return contracts.NewProviderError(fmt.Sprintf("netcup API error %s - %s", action, fault.Error()), nil)
		}
	}

	if errors.Is(err, scpapi.ErrMalformedResponse) {
		return contracts.NewClientError(fmt.Sprintf("could not understand netcup API response when %s", action), err)
	}

	return contracts.NewProviderError(fmt.Sprintf("netcup API unreachable when %s", action), err)
}
