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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup/scpfake"
)

const (
	vmOnline  = "v2202301000000001"
	vmOffline = "v2202301000000002"
)

type harness struct {
	fake    *scpfake.Server
	dir     string
	factory func(ctx context.Context, providerType contracts.ProviderType, configPath string) (contracts.Provider, error)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake := scpfake.NewServer()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	h := &harness{fake: fake, dir: t.TempDir()}
	h.factory = func(ctx context.Context, providerType contracts.ProviderType, configPath string) (contracts.Provider, error) {
		if providerType != contracts.ProviderNetcup {
			return nil, contracts.NewClientError(fmt.Sprintf("no %s account in tests", providerType), nil)
		}
		p, err := netcup.NewWithCredentials(netcup.Credentials{
			LoginName:      fake.Config().LoginName,
			Password:       fake.Config().Password,
			Endpoint:       srv.URL + scpfake.EndpointPath,
			RequestTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return h
}

// run executes iaasctl with args and returns its standard output
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand(h.factory)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{
		"--env-file", filepath.Join(h.dir, "absent.env"),
		"--log-file", filepath.Join(h.dir, "iaasctl.log"),
	}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVMList(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "vm", "list", "--provider", "netcup", "-o", "json")
	require.NoError(t, err)

	var rows []vmRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []vmRow{
		{Provider: "netcup", ID: vmOnline, Name: "web", State: contracts.StateRunning},
		{Provider: "netcup", ID: vmOffline, Name: vmOffline, State: contracts.StateStopped},
	}, rows)
}

func TestVMList_Table(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "vm", "list", "-p", "netcup")
	require.NoError(t, err)
	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "STOPPED")
}

func TestVMList_AllConfiguredProvidersFailsOnFirstError(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "vm", "list")
	require.Error(t, err)
	assert.True(t, contracts.IsClientError(err))
}

func TestVMStart_ByDisplayNameAndID(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "vm", "start", vmOffline, "-p", "netcup", "-o", "yaml")
	require.NoError(t, err)

	var result powerResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &result))
	assert.Equal(t, powerResult{Provider: "netcup", ID: vmOffline, Name: vmOffline, Action: "start", Result: "true"}, result)

	vs, _ := h.fake.VServer(vmOffline)
	assert.Equal(t, scpfake.StateOnline, vs.State)

	_, err = h.run(t, "vm", "stop", "web", "-p", "netcup")
	require.NoError(t, err)
	vs, _ = h.fake.VServer(vmOnline)
	assert.Equal(t, scpfake.StateOffline, vs.State)
}

func TestVMPower_Errors(t *testing.T) {
	h := newHarness(t)

	t.Run("provider required", func(t *testing.T) {
		_, err := h.run(t, "vm", "start", vmOffline)
		require.Error(t, err)
		assert.True(t, contracts.IsClientError(err))
	})

	t.Run("unknown vm", func(t *testing.T) {
		_, err := h.run(t, "vm", "start", "nope", "-p", "netcup")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no VM "nope"`)
	})

	t.Run("ambiguous name", func(t *testing.T) {
		h.fake.AddVServer(scpfake.VServer{Name: "v3", Nickname: "web", State: scpfake.StateOnline})
		_, err := h.run(t, "vm", "restart", "web", "-p", "netcup")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "use the ID")
	})

	t.Run("not allowed", func(t *testing.T) {
		_, err := h.run(t, "vm", "start", vmOnline, "-p", "netcup")
		require.Error(t, err)
		assert.True(t, contracts.IsProviderError(err))
	})

	t.Run("bad output format", func(t *testing.T) {
		_, err := h.run(t, "vm", "list", "-p", "netcup", "-o", "xml")
		assert.Error(t, err)
	})
}

func TestVMReset(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "vm", "reset", vmOffline, "-p", "netcup")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")
	assert.Equal(t, 1, h.fake.Calls("vServerReset"))
}

func TestVMIPs(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "vm", "ips", "web", "-p", "netcup", "-o", "json")
	require.NoError(t, err)

	var ips []string
	require.NoError(t, json.Unmarshal([]byte(out), &ips))
	assert.Equal(t, []string{"203.0.113.10", "2001:db8::10"}, ips)
}

func TestMonitorOnce(t *testing.T) {
	h := newHarness(t)
	configFile := filepath.Join(h.dir, "iaas.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("providers:\n  - type: netcup\n"), 0o600))

	out, err := h.run(t, "--config", configFile, "monitor", "--once", "-o", "json")
	require.NoError(t, err)

	var rows []sweepRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []sweepRow{
		{Provider: "netcup", ID: vmOnline, Name: "web", State: "RUNNING", Action: "none"},
		{Provider: "netcup", ID: vmOffline, Name: vmOffline, State: "STOPPED", Action: "started", Result: "true"},
	}, rows)
}

func TestMonitorOnce_ReportsFailedProvider(t *testing.T) {
	h := newHarness(t)
	configFile := filepath.Join(h.dir, "iaas.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("providers:\n  - type: oracle\n  - type: netcup\n"), 0o600))

	out, err := h.run(t, "--config", configFile, "monitor", "--once")
	require.Error(t, err)
	assert.Contains(t, out, "no oracle account in tests")
	assert.Contains(t, out, "started")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
}

// clearEnv unsets keys for the duration of t, restoring them afterwards
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("IAASCTL_TEST_PLAIN=plain\nIAASCTL_TEST_PRESET=from-file\n"), 0o600))

	t.Setenv("IAASCTL_TEST_PRESET", "from-shell")
	clearEnv(t, "IAASCTL_TEST_PLAIN")

	applied, err := loadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"IAASCTL_TEST_PLAIN": "plain"}, applied)
	assert.Equal(t, "plain", os.Getenv("IAASCTL_TEST_PLAIN"))
	assert.Equal(t, "from-shell", os.Getenv("IAASCTL_TEST_PRESET"))

	applied, err = loadEnvFile(filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	assert.Empty(t, applied)

	applied, err = loadEnvFile("")
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestEnvFileSecretsAreRedactedInLog(t *testing.T) {
	h := newHarness(t)

	envFile := filepath.Join(h.dir, "debug.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=debug\nIAASCTL_TEST_TOKEN=s3cr3t-value\n"), 0o600))
	clearEnv(t, "LOG_LEVEL", "IAASCTL_TEST_TOKEN")

	_, err := h.run(t, "--env-file", envFile, "version")
	require.NoError(t, err)

	logged, err := os.ReadFile(filepath.Join(h.dir, "iaasctl.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logged), "Loaded environment file")
	assert.Contains(t, string(logged), "[REDACTED]")
	assert.NotContains(t, string(logged), "s3cr3t-value")
}
