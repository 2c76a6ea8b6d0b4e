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

package registry

import (
	"context"
	"fmt"

	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/netcup"
	"github.com/dom-porter/iaas-provider-lib/internal/providers/oracle"
)

// ProviderFactory creates a new provider instance from a config file path.
// An empty path selects the backend's default location.
type ProviderFactory func(ctx context.Context, configPath string) (contracts.Provider, error)

// factories is fixed at build time and never written
var factories = map[contracts.ProviderType]ProviderFactory{
	contracts.ProviderOracle: func(_ context.Context, configPath string) (contracts.Provider, error) {
		p, err := oracle.New(configPath)
		if err != nil {
			return nil, err
		}
		return p, nil
	},
	contracts.ProviderNetcup: func(_ context.Context, configPath string) (contracts.Provider, error) {
		p, err := netcup.New(configPath)
		if err != nil {
			return nil, err
		}
		return p, nil
	},
}

// New builds a fresh provider of the given type. Every call loads its own
// configuration and returns an independent instance; nothing is cached.
// A providerType outside the enumeration is a programming error and panics.
func New(ctx context.Context, providerType contracts.ProviderType, configPath string) (contracts.Provider, error) {
	factory, ok := factories[providerType]
	if !ok {
		panic(fmt.Sprintf("registry: no factory for provider type %s", providerType))
	}
	return factory(ctx, configPath)
}

// SupportedTypes returns the provider types New accepts, in declaration order
func SupportedTypes() []contracts.ProviderType {
	types := make([]contracts.ProviderType, 0, len(factories))
	for _, t := range contracts.ProviderTypes() {
		if _, ok := factories[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// IsSupported returns true if New accepts providerType
func IsSupported(providerType contracts.ProviderType) bool {
	_, ok := factories[providerType]
	return ok
}
