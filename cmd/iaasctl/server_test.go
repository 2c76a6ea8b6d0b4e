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
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dom-porter/iaas-provider-lib/internal/config"
	"github.com/dom-porter/iaas-provider-lib/internal/monitor"
	"github.com/dom-porter/iaas-provider-lib/internal/obs/health"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup/scpfake"
)

func TestMonitorServer(t *testing.T) {
	h := newHarness(t)

	targets := func() []monitor.Target { return []monitor.Target{{Type: contracts.ProviderNetcup}} }
	m, err := monitor.New(monitor.Options{
		Targets: targets,
		Factory: h.factory,
		Logger:  logr.Discard(),
	})
	require.NoError(t, err)

	server, checker := newMonitorServer(":0", m, targets, time.Minute)
	assert.Equal(t, []string{"sweep", "targets"}, checker.Names())
	srv := httptest.NewServer(server.Handler)
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, _ := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before the first sweep")

	report := m.Sweep(context.Background())
	require.NoError(t, report.Err())

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "iaas_monitor_sweeps_total")
	assert.Contains(t, body, `iaas_monitor_vms{provider="netcup",state="STOPPED"} 1`)
	assert.Contains(t, body, `iaas_provider_calls_total{code="ok",method="getVServers",provider="netcup"}`)
	assert.Contains(t, body, `iaas_vm_operations_total{operation="Start",outcome="success",provider="netcup"}`)
}

func TestMonitorServer_NotReadyWithoutTargets(t *testing.T) {
	h := newHarness(t)

	none := func() []monitor.Target { return nil }
	m, err := monitor.New(monitor.Options{Targets: none, Factory: h.factory, Logger: logr.Discard()})
	require.NoError(t, err)

	server, _ := newMonitorServer(":0", m, none, time.Minute)
	srv := httptest.NewServer(server.Handler)
	defer srv.Close()

	m.Sweep(context.Background())

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEndpointChecks_FollowConfig(t *testing.T) {
	fake := httptest.NewServer(scpfake.NewServer())
	defer fake.Close()
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	dir := t.TempDir()
	writeIni := func(name, endpoint string) string {
		path := filepath.Join(dir, name)
		content := "loginName = 1\npassword = p\nendpoint = " + endpoint + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	up := writeIni("up.ini", fake.URL+scpfake.EndpointPath)
	down := writeIni("down.ini", closedURL+scpfake.EndpointPath)

	checker := health.NewHealthChecker()
	checker.SetCacheTTL(0)
	endpoints := &endpointChecks{checker: checker}
	ctx := context.Background()

	endpoints.sync(&config.Config{Providers: []config.ProviderConfig{
		{Type: "oracle"},
		{Type: "netcup", ConfigPath: up},
	}})
	assert.Equal(t, []string{"endpoint:netcup:" + up}, checker.Names())
	assert.True(t, checker.IsHealthy(ctx))

	endpoints.sync(&config.Config{Providers: []config.ProviderConfig{
		{Type: "netcup", ConfigPath: down},
		{Type: "netcup", ConfigPath: filepath.Join(dir, "missing.ini")},
	}})
	assert.Equal(t, []string{
		"endpoint:netcup:" + down,
		"endpoint:netcup:" + filepath.Join(dir, "missing.ini"),
	}, checker.Names())
	assert.False(t, checker.IsHealthy(ctx))

	result := checker.RunCheck(ctx, "endpoint:netcup:"+filepath.Join(dir, "missing.ini"))
	assert.Equal(t, health.StatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "failed to load netcup config")

	endpoints.sync(&config.Config{Providers: []config.ProviderConfig{{Type: "oracle"}}})
	assert.Empty(t, checker.Names())
}

func TestDialAddress(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "", want: "www.servercontrolpanel.de:443"},
		{endpoint: "https://scp.example.com/SCP/WSEndUser", want: "scp.example.com:443"},
		{endpoint: "http://127.0.0.1/SCP/WSEndUser", want: "127.0.0.1:80"},
		{endpoint: "http://localhost:8080/SCP/WSEndUser", want: "localhost:8080"},
		{endpoint: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := dialAddress(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
