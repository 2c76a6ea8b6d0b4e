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

// Package oracle implements the provider contract for Oracle Cloud
// Infrastructure compute instances.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"go.opentelemetry.io/otel/trace"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/metrics"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/tracing"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
)

// DefaultConfigPath is used when no config path is supplied
const DefaultConfigPath = "./config/oracle.ini"

// Provider implements contracts.Provider for OCI
type Provider struct {
	compute       ComputeAPI
	network       NetworkAPI
	compartmentID string
	metrics       *metrics.VMOperationMetrics
}

var _ contracts.Provider = (*Provider)(nil)

// New reads an OCI SDK config file (DEFAULT profile) from configPath, or
// DefaultConfigPath when empty. Instances are listed in the tenancy's root
// compartment.
func New(configPath string) (*Provider, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, contracts.NewClientError(fmt.Sprintf("unable to locate config file %s", configPath), err)
	}

	configProvider, err := common.ConfigurationProviderFromFile(configPath, "")
	if err != nil {
		return nil, contracts.NewClientError(fmt.Sprintf("config in %s is not valid", configPath), err)
	}
	if ok, err := common.IsConfigurationProviderValid(configProvider); !ok {
		return nil, contracts.NewClientError(fmt.Sprintf("config in %s is not valid", configPath), err)
	}

	tenancy, err := configProvider.TenancyOCID()
	if err != nil {
		return nil, contracts.NewClientError(fmt.Sprintf("config in %s has no tenancy", configPath), err)
	}

	compute, err := core.NewComputeClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, contracts.NewClientError("failed to create OCI compute client", err)
	}
	network, err := core.NewVirtualNetworkClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, contracts.NewClientError("failed to create OCI virtual network client", err)
	}

	return NewWithClients(compute, network, tenancy), nil
}

// NewWithClients returns a provider using the given SDK clients
func NewWithClients(compute ComputeAPI, network NetworkAPI, compartmentID string) *Provider {
	return &Provider{
		compute:       compute,
		network:       network,
		compartmentID: compartmentID,
		metrics:       metrics.NewVMOperationMetrics(contracts.ProviderOracle.String()),
	}
}

// Type returns contracts.ProviderOracle
func (p *Provider) Type() contracts.ProviderType {
	return contracts.ProviderOracle
}

// ListVMs returns every instance in the compartment, following pagination
func (p *Provider) ListVMs(ctx context.Context) (vms []*contracts.VirtualMachine, err error) {
	ctx, span := p.begin(ctx, metrics.OpList)
	defer span.End()
	defer func() { p.finish(ctx, metrics.OpList, err) }()

	vms = make([]*contracts.VirtualMachine, 0)
	req := core.ListInstancesRequest{CompartmentId: common.String(p.compartmentID)}
	for {
		resp, err := p.compute.ListInstances(ctx, req)
		if err != nil {
			return nil, translate("fetching list of VMs", err)
		}

		for _, inst := range resp.Items {
			vm, err := contracts.NewVirtualMachine(deref(inst.Id), deref(inst.DisplayName), string(inst.LifecycleState), contracts.ProviderOracle)
			if err != nil {
				return nil, err
			}
			vms = append(vms, vm)
		}

		if resp.OpcNextPage == nil || *resp.OpcNextPage == "" {
			break
		}
		req.Page = resp.OpcNextPage
	}

	logging.FromContext(ctx).V(1).Info("Listed VMs", "count", len(vms))
	return vms, nil
}

// Stop sends a shutdown to the guest OS (SOFTSTOP)
func (p *Provider) Stop(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.action(ctx, metrics.OpStop, "stopping VM", vm, core.InstanceActionActionSoftstop)
}

// ForceStop powers the instance off (STOP)
func (p *Provider) ForceStop(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.action(ctx, metrics.OpForceStop, "force stopping VM", vm, core.InstanceActionActionStop)
}

// Start powers the instance on (START)
func (p *Provider) Start(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.action(ctx, metrics.OpStart, "starting VM", vm, core.InstanceActionActionStart)
}

// Restart reboots the instance through the guest OS (SOFTRESET)
func (p *Provider) Restart(ctx context.Context, vm *contracts.VirtualMachine) (string, error) {
	return p.action(ctx, metrics.OpRestart, "restarting VM", vm, core.InstanceActionActionSoftreset)
}

// action submits an instance action and returns the lifecycle state reported
// in the response
func (p *Provider) action(ctx context.Context, operation, what string, vm *contracts.VirtualMachine,
	action core.InstanceActionActionEnum) (state string, err error) {
	if err := contracts.CheckOwnership(p.Type(), vm); err != nil {
		return "", err
	}

	ctx = logging.WithVM(ctx, vm.ID)
	ctx, span := p.begin(ctx, operation)
	defer span.End()
	defer func() { p.finish(ctx, operation, err) }()

	resp, err := p.compute.InstanceAction(ctx, core.InstanceActionRequest{
		InstanceId: common.String(vm.ID),
		Action:     action,
	})
	if err != nil {
		return "", translate(what, err)
	}

	state = string(resp.Instance.LifecycleState)
	logging.FromContext(ctx).Info("Instance action accepted", "action", string(action), "state", state)
	return state, nil
}

// PublicIPs returns the public address of every VNIC attached to the instance
func (p *Provider) PublicIPs(ctx context.Context, vm *contracts.VirtualMachine) (ips []string, err error) {
	if err := contracts.CheckOwnership(p.Type(), vm); err != nil {
		return nil, err
	}

	ctx = logging.WithVM(ctx, vm.ID)
	ctx, span := p.begin(ctx, metrics.OpPublicIPs)
	defer span.End()
	defer func() { p.finish(ctx, metrics.OpPublicIPs, err) }()

	timer := metrics.NewTimer()
	ips = make([]string, 0)

	req := core.ListVnicAttachmentsRequest{
		CompartmentId: common.String(p.compartmentID),
		InstanceId:    common.String(vm.ID),
	}
	for {
		resp, err := p.compute.ListVnicAttachments(ctx, req)
		if err != nil {
			return nil, translate("listing VNIC attachments", err)
		}

		for _, attachment := range resp.Items {
			if attachment.VnicId == nil || attachment.LifecycleState == core.VnicAttachmentLifecycleStateDetached {
				continue
			}
			vnic, err := p.network.GetVnic(ctx, core.GetVnicRequest{VnicId: attachment.VnicId})
			if err != nil {
				return nil, translate("getting VNIC", err)
			}
			if ip := deref(vnic.PublicIp); ip != "" {
				ips = append(ips, ip)
			}
		}

		if resp.OpcNextPage == nil || *resp.OpcNextPage == "" {
			break
		}
		req.Page = resp.OpcNextPage
	}

	metrics.RecordIPDiscovery(p.Type().String(), timer.Duration())
	return ips, nil
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

// serviceError is the part of common.ServiceError the provider reads
type serviceError interface {
	GetHTTPStatusCode() int
	GetMessage() string
	GetCode() string
}

// translate converts SDK errors into the public error kinds. A rejected
// signature means the local key or config is wrong, anything else the
// service reports is a provider error.
func translate(action string, err error) error {
	var svcErr serviceError
	if errors.As(err, &svcErr) {
		msg := fmt.Sprintf("Oracle API returned an error when %s - %s", action, svcErr.GetMessage())
		if svcErr.GetHTTPStatusCode() == http.StatusUnauthorized {
			return contracts.NewClientError(msg, err)
		}
		return contracts.NewProviderError(msg, err)
	}
	return contracts.NewProviderError(fmt.Sprintf("Oracle API unreachable when %s", action), err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
