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

import "context"

// Wire operation names
const (
	OpGetVServers         = "getVServers"
	OpGetVServerNickname  = "getVServerNickname"
	OpGetVServerState     = "getVServerState"
	OpVServerStart        = "vServerStart"
	OpVServerPoweroff     = "vServerPoweroff"
	OpVServerACPIShutdown = "vServerACPIShutdown"
	OpVServerACPIReboot   = "vServerACPIReboot"
	OpVServerReset        = "vServerReset"
	OpGetVServerIPs       = "getVServerIPs"
)

// GetVServers returns the names of every vserver on the account
func (c *Client) GetVServers(ctx context.Context) ([]string, error) {
	return c.list(ctx, OpGetVServers, c.credentialParams())
}

// GetVServerNickname returns the nickname of a vserver, "" when none is set
func (c *Client) GetVServerNickname(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpGetVServerNickname, name)
}

// GetVServerState returns the raw state of a vserver, typically online or offline
func (c *Client) GetVServerState(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpGetVServerState, name)
}

// VServerStart powers a vserver on. The result is the literal "true" or "false".
func (c *Client) VServerStart(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpVServerStart, name)
}

// VServerPoweroff cuts power to a vserver
func (c *Client) VServerPoweroff(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpVServerPoweroff, name)
}

// VServerACPIShutdown asks the guest to shut down
func (c *Client) VServerACPIShutdown(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpVServerACPIShutdown, name)
}

// VServerACPIReboot asks the guest to reboot
func (c *Client) VServerACPIReboot(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpVServerACPIReboot, name)
}

// VServerReset hard resets a vserver
func (c *Client) VServerReset(ctx context.Context, name string) (string, error) {
	return c.single(ctx, OpVServerReset, name)
}

// GetVServerIPs returns every address assigned to a vserver
func (c *Client) GetVServerIPs(ctx context.Context, name string) ([]string, error) {
	return c.list(ctx, OpGetVServerIPs, c.credentialParams(Param{Name: ParamVServerName, Value: name}))
}

func (c *Client) single(ctx context.Context, operation, name string) (string, error) {
	resp, err := c.Call(ctx, operation, c.credentialParams(Param{Name: ParamVServerName, Value: name})...)
	if err != nil {
		return "", err
	}
	return resp.First(), nil
}

func (c *Client) list(ctx context.Context, operation string, params []Param) ([]string, error) {
	resp, err := c.Call(ctx, operation, params...)
	if err != nil {
		return nil, err
	}
	return resp.Values(), nil
}
