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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
)

// vmRow is the printable form of a VM
type vmRow struct {
	Provider string          `json:"provider" yaml:"provider"`
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	State    contracts.State `json:"state" yaml:"state"`
}

// powerResult is the printable outcome of a power command
type powerResult struct {
	Provider string `json:"provider" yaml:"provider"`
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Action   string `json:"action" yaml:"action"`
	Result   string `json:"result" yaml:"result"`
}

// resetter is implemented by backends that support a hard reset
type resetter interface {
	Reset(ctx context.Context, vm *contracts.VirtualMachine) (string, error)
}

type vmFlags struct {
	provider       string
	providerConfig string
}

func newVMCommand(a *app) *cobra.Command {
	flags := &vmFlags{}

	vmCmd := &cobra.Command{
		Use:     "vm",
		Aliases: []string{"vms", "virtualmachine"},
		Short:   "List and power-control virtual machines",
	}

	vmCmd.PersistentFlags().StringVarP(&flags.provider, "provider", "p", "",
		fmt.Sprintf("Provider to operate on (%s)", providerNames()))
	vmCmd.PersistentFlags().StringVar(&flags.providerConfig, "provider-config", "",
		"Provider credentials file (defaults to the config file entry, then the backend default)")

	vmCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List virtual machines of one or all configured providers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.listVMs(cmd, flags)
			},
		},
		a.powerCommand(flags, "start <vm>", "Power a VM on", "start",
			func(ctx context.Context, p contracts.Provider, vm *contracts.VirtualMachine) (string, error) {
				return p.Start(ctx, vm)
			}),
		a.powerCommand(flags, "stop <vm>", "Shut a VM down through the guest OS", "stop",
			func(ctx context.Context, p contracts.Provider, vm *contracts.VirtualMachine) (string, error) {
				return p.Stop(ctx, vm)
			}),
		a.powerCommand(flags, "force-stop <vm>", "Power a VM off without involving the guest", "force-stop",
			func(ctx context.Context, p contracts.Provider, vm *contracts.VirtualMachine) (string, error) {
				return p.ForceStop(ctx, vm)
			}),
		a.powerCommand(flags, "restart <vm>", "Reboot a VM through the guest OS", "restart",
			func(ctx context.Context, p contracts.Provider, vm *contracts.VirtualMachine) (string, error) {
				return p.Restart(ctx, vm)
			}),
		a.powerCommand(flags, "reset <vm>", "Hard reset a VM (netcup only)", "reset",
			func(ctx context.Context, p contracts.Provider, vm *contracts.VirtualMachine) (string, error) {
				r, ok := p.(resetter)
				if !ok {
					return "", contracts.NewClientError(fmt.Sprintf("provider %s does not support reset", p.Type()), nil)
				}
				return r.Reset(ctx, vm)
			}),
		&cobra.Command{
			Use:   "ips <vm>",
			Short: "Show the public IP addresses of a VM",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.publicIPs(cmd, flags, args[0])
			},
		},
	)

	return vmCmd
}

func providerNames() string {
	names := make([]string, 0, len(contracts.ProviderTypes()))
	for _, p := range contracts.ProviderTypes() {
		names = append(names, p.String())
	}
	return strings.Join(names, "|")
}

// selectedProviders returns the provider named by --provider, or every configured provider
func (a *app) selectedProviders(flags *vmFlags, required bool) ([]contracts.ProviderType, error) {
	if flags.provider != "" {
		p, err := contracts.ParseProviderType(flags.provider)
		if err != nil {
			return nil, err
		}
		return []contracts.ProviderType{p}, nil
	}
	if required {
		return nil, contracts.NewClientError(fmt.Sprintf("--provider is required (%s)", providerNames()), nil)
	}

	types := make([]contracts.ProviderType, 0, len(a.config.Providers))
	for _, pc := range a.config.Providers {
		p, err := pc.ProviderType()
		if err != nil {
			return nil, err
		}
		types = append(types, p)
	}
	return types, nil
}

// build constructs a backend using the credentials file from the flag or the config
func (a *app) build(ctx context.Context, flags *vmFlags, providerType contracts.ProviderType) (contracts.Provider, error) {
	path := flags.providerConfig
	if path == "" {
		path = a.config.ProviderConfigPath(providerType)
	}
	return a.factory(ctx, providerType, path)
}

func (a *app) listVMs(cmd *cobra.Command, flags *vmFlags) error {
	types, err := a.selectedProviders(flags, false)
	if err != nil {
		return err
	}

	ctx, cancel := a.context(cmd)
	defer cancel()

	rows := make([]vmRow, 0)
	for _, providerType := range types {
		pctx := logging.WithProvider(ctx, providerType.String())
		provider, err := a.build(pctx, flags, providerType)
		if err != nil {
			return err
		}
		vms, err := provider.ListVMs(pctx)
		if err != nil {
			return err
		}
		for _, vm := range vms {
			rows = append(rows, vmRow{
				Provider: providerType.String(),
				ID:       vm.ID,
				Name:     vm.Name(),
				State:    vm.State,
			})
		}
	}

	return render(cmd.OutOrStdout(), a.output, rows, func(p *tablePrinter) {
		p.row("PROVIDER", "NAME", "STATE", "ID")
		for _, r := range rows {
			p.row(r.Provider, r.Name, string(r.State), r.ID)
		}
	})
}

// resolve builds the selected provider and finds ref among its VMs by ID or display name
func (a *app) resolve(ctx context.Context, flags *vmFlags, ref string) (contracts.Provider, *contracts.VirtualMachine, error) {
	types, err := a.selectedProviders(flags, true)
	if err != nil {
		return nil, nil, err
	}

	provider, err := a.build(ctx, flags, types[0])
	if err != nil {
		return nil, nil, err
	}
	vms, err := provider.ListVMs(ctx)
	if err != nil {
		return nil, nil, err
	}

	var byName []*contracts.VirtualMachine
	for _, vm := range vms {
		if vm.ID == ref {
			return provider, vm, nil
		}
		if vm.DisplayName == ref {
			byName = append(byName, vm)
		}
	}

	switch len(byName) {
	case 0:
		return nil, nil, contracts.NewClientError(fmt.Sprintf("no VM %q on provider %s", ref, types[0]), nil)
	case 1:
		return provider, byName[0], nil
	default:
		return nil, nil, contracts.NewClientError(
			fmt.Sprintf("%d VMs on provider %s are named %q, use the ID", len(byName), types[0], ref), nil)
	}
}

type powerFunc func(ctx context.Context, p contracts.Provider, vm *contracts.VirtualMachine) (string, error)

func (a *app) powerCommand(flags *vmFlags, use, short, action string, fn powerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			provider, vm, err := a.resolve(ctx, flags, args[0])
			if err != nil {
				return err
			}

			raw, err := fn(ctx, provider, vm)
			if err != nil {
				return err
			}

			result := powerResult{
				Provider: provider.Type().String(),
				ID:       vm.ID,
				Name:     vm.Name(),
				Action:   action,
				Result:   raw,
			}
			return render(cmd.OutOrStdout(), a.output, result, func(p *tablePrinter) {
				p.row("PROVIDER", "NAME", "ACTION", "RESULT")
				p.row(result.Provider, result.Name, result.Action, orNone(result.Result))
			})
		},
	}
}

func (a *app) publicIPs(cmd *cobra.Command, flags *vmFlags, ref string) error {
	ctx, cancel := a.context(cmd)
	defer cancel()

	provider, vm, err := a.resolve(ctx, flags, ref)
	if err != nil {
		return err
	}

	ips, err := provider.PublicIPs(ctx, vm)
	if err != nil {
		return err
	}
	if ips == nil {
		ips = []string{}
	}

	return render(cmd.OutOrStdout(), a.output, ips, func(p *tablePrinter) {
		p.row("NAME", "IP")
		for _, ip := range ips {
			p.row(vm.Name(), ip)
		}
	})
}
