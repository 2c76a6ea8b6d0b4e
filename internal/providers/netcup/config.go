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

package netcup

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
)

// DefaultConfigPath is used when no config path is supplied
const DefaultConfigPath = "./config/netcup.ini"

// Keys read from the DEFAULT section
const (
	keyLoginName      = "loginName"
	keyPassword       = "password"
	keyEndpoint       = "endpoint"
	keyRequestTimeout = "requestTimeout"
)

// Credentials holds the webservice account settings. They are read once and
// never modified afterwards.
type Credentials struct {
	LoginName string
	// Password is the webservice password, not the control panel password
	Password string
	// Endpoint overrides the production webservice URL
	Endpoint string
	// RequestTimeout overrides the per-call timeout
	RequestTimeout time.Duration
}

// LoadCredentials reads the DEFAULT section of an ini file at path, or of
// DefaultConfigPath when path is empty
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, contracts.NewClientError(fmt.Sprintf("failed to load netcup config %s", path), err)
	}
	section := cfg.Section(ini.DefaultSection)

	creds := &Credentials{
		LoginName: section.Key(keyLoginName).String(),
		Password:  section.Key(keyPassword).String(),
		Endpoint:  section.Key(keyEndpoint).String(),
	}

	for _, key := range []string{keyLoginName, keyPassword} {
		if section.Key(key).String() == "" {
			return nil, contracts.NewClientError(fmt.Sprintf("netcup config %s: missing required key %s", path, key), nil)
		}
	}

	if section.HasKey(keyRequestTimeout) {
		timeout, err := section.Key(keyRequestTimeout).Duration()
		if err != nil || timeout <= 0 {
			return nil, contracts.NewClientError(fmt.Sprintf("netcup config %s: invalid %s %q", path, keyRequestTimeout, section.Key(keyRequestTimeout).String()), err)
		}
		creds.RequestTimeout = timeout
	}

	return creds, nil
}
