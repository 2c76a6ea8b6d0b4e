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

package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
)

const tenancy = "ocid1.tenancy.oc1..aaaa"

// fakeServiceError mimics the SDK's service failure
type fakeServiceError struct {
	status  int
	code    string
	message string
}

func (e fakeServiceError) Error() string {
	return fmt.Sprintf("Service error:%s. %s. http status code: %d", e.code, e.message, e.status)
}
func (e fakeServiceError) GetHTTPStatusCode() int  { return e.status }
func (e fakeServiceError) GetMessage() string      { return e.message }
func (e fakeServiceError) GetCode() string         { return e.code }
func (e fakeServiceError) GetOpcRequestID() string { return "req-1" }

type fakeCompute struct {
	mu          sync.Mutex
	pages       [][]core.Instance
	listErr     error
	actionErr   error
	actions     []core.InstanceActionActionEnum
	attachments map[string][]core.VnicAttachment
	requests    []core.ListInstancesRequest
}

func (f *fakeCompute) ListInstances(_ context.Context, req core.ListInstancesRequest) (core.ListInstancesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.listErr != nil {
		return core.ListInstancesResponse{}, f.listErr
	}

	page := 0
	if req.Page != nil {
		_, _ = fmt.Sscanf(*req.Page, "page-%d", &page)
	}
	resp := core.ListInstancesResponse{}
	if page < len(f.pages) {
		resp.Items = f.pages[page]
	}
	if page+1 < len(f.pages) {
		resp.OpcNextPage = common.String(fmt.Sprintf("page-%d", page+1))
	}
	return resp, nil
}

func (f *fakeCompute) InstanceAction(_ context.Context, req core.InstanceActionRequest) (core.InstanceActionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actionErr != nil {
		return core.InstanceActionResponse{}, f.actionErr
	}
	f.actions = append(f.actions, req.Action)

	state := map[core.InstanceActionActionEnum]core.InstanceLifecycleStateEnum{
		core.InstanceActionActionSoftstop:  core.InstanceLifecycleStateStopping,
		core.InstanceActionActionStop:      core.InstanceLifecycleStateStopping,
		core.InstanceActionActionStart:     core.InstanceLifecycleStateStarting,
		core.InstanceActionActionSoftreset: core.InstanceLifecycleStateRunning,
	}[req.Action]

	return core.InstanceActionResponse{
		Instance: core.Instance{Id: req.InstanceId, LifecycleState: state},
	}, nil
}

func (f *fakeCompute) ListVnicAttachments(_ context.Context, req core.ListVnicAttachmentsRequest) (core.ListVnicAttachmentsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.ListVnicAttachmentsResponse{Items: f.attachments[*req.InstanceId]}, nil
}

type fakeNetwork struct {
	vnics map[string]core.Vnic
	err   error
}

func (f *fakeNetwork) GetVnic(_ context.Context, req core.GetVnicRequest) (core.GetVnicResponse, error) {
	if f.err != nil {
		return core.GetVnicResponse{}, f.err
	}
	vnic, ok := f.vnics[*req.VnicId]
	if !ok {
		return core.GetVnicResponse{}, fakeServiceError{status: http.StatusNotFound, code: "NotAuthorizedOrNotFound", message: "vnic not found"}
	}
	return core.GetVnicResponse{Vnic: vnic}, nil
}

func instance(id, name string, state core.InstanceLifecycleStateEnum) core.Instance {
	return core.Instance{Id: common.String(id), DisplayName: common.String(name), LifecycleState: state}
}

func oracleVM(t *testing.T, id string) *contracts.VirtualMachine {
	t.Helper()
	vm, err := contracts.NewVirtualMachine(id, "", "RUNNING", contracts.ProviderOracle)
	require.NoError(t, err)
	return vm
}

func TestListVMs(t *testing.T) {
	compute := &fakeCompute{pages: [][]core.Instance{
		{
			instance("ocid1.instance.a", "web", core.InstanceLifecycleStateRunning),
			instance("ocid1.instance.b", "db", core.InstanceLifecycleStateStopped),
		},
		{
			instance("ocid1.instance.c", "", core.InstanceLifecycleStateProvisioning),
		},
	}}
	p := NewWithClients(compute, &fakeNetwork{}, tenancy)

	vms, err := p.ListVMs(context.Background())
	require.NoError(t, err)

	want := []*contracts.VirtualMachine{
		{ID: "ocid1.instance.a", DisplayName: "web", State: contracts.StateRunning, Provider: contracts.ProviderOracle},
		{ID: "ocid1.instance.b", DisplayName: "db", State: contracts.StateStopped, Provider: contracts.ProviderOracle},
		{ID: "ocid1.instance.c", DisplayName: "", State: contracts.StateUnknown, Provider: contracts.ProviderOracle},
	}
	if diff := cmp.Diff(want, vms); diff != "" {
		t.Errorf("ListVMs() mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, compute.requests, 2)
	for _, req := range compute.requests {
		assert.Equal(t, tenancy, *req.CompartmentId)
	}
	assert.Nil(t, compute.requests[0].Page)
	assert.Equal(t, "page-1", *compute.requests[1].Page)
}

func TestListVMs_Empty(t *testing.T) {
	p := NewWithClients(&fakeCompute{}, &fakeNetwork{}, tenancy)

	vms, err := p.ListVMs(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, vms)
	assert.Empty(t, vms)
}

func TestListVMs_UnmappedStateAborts(t *testing.T) {
	compute := &fakeCompute{pages: [][]core.Instance{{
		instance("ocid1.instance.a", "web", core.InstanceLifecycleStateRunning),
		instance("ocid1.instance.b", "odd", core.InstanceLifecycleStateEnum("HIBERNATING")),
	}}}
	p := NewWithClients(compute, &fakeNetwork{}, tenancy)

	vms, err := p.ListVMs(context.Background())
	require.Error(t, err)
	assert.Nil(t, vms)
	assert.True(t, contracts.IsClientError(err))
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantClient bool
		wantText   string
	}{
		{
			name:     "service error",
			err:      fakeServiceError{status: http.StatusInternalServerError, code: "InternalError", message: "out of host capacity"},
			wantText: "out of host capacity",
		},
		{
			name:       "rejected signature",
			err:        fakeServiceError{status: http.StatusUnauthorized, code: "NotAuthenticated", message: "The required information to complete authentication was not provided"},
			wantClient: true,
			wantText:   "authentication",
		},
		{
			name:     "wrapped service error",
			err:      fmt.Errorf("request failed: %w", fakeServiceError{status: http.StatusConflict, code: "IncorrectState", message: "instance is stopping"}),
			wantText: "instance is stopping",
		},
		{
			name:     "transport",
			err:      errors.New("dial tcp: connection refused"),
			wantText: "unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewWithClients(&fakeCompute{listErr: tt.err, actionErr: tt.err}, &fakeNetwork{}, tenancy)

			_, err := p.ListVMs(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantClient, contracts.IsClientError(err))
			assert.Equal(t, !tt.wantClient, contracts.IsProviderError(err))
			assert.Contains(t, err.Error(), tt.wantText)

			_, err = p.Start(context.Background(), oracleVM(t, "ocid1.instance.a"))
			require.Error(t, err)
			assert.Equal(t, tt.wantClient, contracts.IsClientError(err))
		})
	}
}

func TestInstanceActions(t *testing.T) {
	compute := &fakeCompute{}
	p := NewWithClients(compute, &fakeNetwork{}, tenancy)
	ctx := context.Background()
	vm := oracleVM(t, "ocid1.instance.a")

	state, err := p.Stop(ctx, vm)
	require.NoError(t, err)
	assert.Equal(t, "STOPPING", state)

	state, err = p.ForceStop(ctx, vm)
	require.NoError(t, err)
	assert.Equal(t, "STOPPING", state)

	state, err = p.Start(ctx, vm)
	require.NoError(t, err)
	assert.Equal(t, "STARTING", state)

	state, err = p.Restart(ctx, vm)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", state)

	assert.Equal(t, []core.InstanceActionActionEnum{
		core.InstanceActionActionSoftstop,
		core.InstanceActionActionStop,
		core.InstanceActionActionStart,
		core.InstanceActionActionSoftreset,
	}, compute.actions)
}

func TestOperations_RejectForeignVM(t *testing.T) {
	compute := &fakeCompute{}
	p := NewWithClients(compute, &fakeNetwork{}, tenancy)
	ctx := context.Background()

	foreign, err := contracts.NewVirtualMachine("v2202301", "", "online", contracts.ProviderNetcup)
	require.NoError(t, err)

	_, err = p.Start(ctx, foreign)
	assert.True(t, contracts.IsClientError(err))
	_, err = p.Stop(ctx, foreign)
	assert.True(t, contracts.IsClientError(err))
	_, err = p.PublicIPs(ctx, foreign)
	assert.True(t, contracts.IsClientError(err))
	assert.Empty(t, compute.actions)
}

func TestPublicIPs(t *testing.T) {
	compute := &fakeCompute{attachments: map[string][]core.VnicAttachment{
		"ocid1.instance.a": {
			{VnicId: common.String("vnic-1"), LifecycleState: core.VnicAttachmentLifecycleStateAttached},
			{VnicId: common.String("vnic-2"), LifecycleState: core.VnicAttachmentLifecycleStateAttached},
			{VnicId: common.String("vnic-3"), LifecycleState: core.VnicAttachmentLifecycleStateAttached},
			{VnicId: common.String("vnic-gone"), LifecycleState: core.VnicAttachmentLifecycleStateDetached},
		},
	}}
	network := &fakeNetwork{vnics: map[string]core.Vnic{
		"vnic-1": {PublicIp: common.String("198.51.100.7")},
		"vnic-2": {PrivateIp: common.String("10.0.0.3")},
		"vnic-3": {PublicIp: common.String("198.51.100.8")},
	}}
	p := NewWithClients(compute, network, tenancy)

	ips, err := p.PublicIPs(context.Background(), oracleVM(t, "ocid1.instance.a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.7", "198.51.100.8"}, ips)

	ips, err = p.PublicIPs(context.Background(), oracleVM(t, "ocid1.instance.none"))
	require.NoError(t, err)
	assert.NotNil(t, ips)
	assert.Empty(t, ips)
}

func TestPublicIPs_VnicError(t *testing.T) {
	compute := &fakeCompute{attachments: map[string][]core.VnicAttachment{
		"ocid1.instance.a": {{VnicId: common.String("vnic-1")}},
	}}
	p := NewWithClients(compute, &fakeNetwork{err: errors.New("timeout")}, tenancy)

	_, err := p.PublicIPs(context.Background(), oracleVM(t, "ocid1.instance.a"))
	require.Error(t, err)
	assert.True(t, contracts.IsProviderError(err))
}

func TestNew_ConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := New(filepath.Join(dir, "missing.ini"))
	require.Error(t, err)
	assert.True(t, contracts.IsClientError(err))
	assert.Contains(t, err.Error(), "unable to locate config file")

	incomplete := filepath.Join(dir, "oracle.ini")
	require.NoError(t, os.WriteFile(incomplete, []byte("[DEFAULT]\nregion=eu-frankfurt-1\n"), 0o600))

	_, err = New(incomplete)
	require.Error(t, err)
	assert.True(t, contracts.IsClientError(err))
}

func TestNew_DefaultPath(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultConfigPath)
}
