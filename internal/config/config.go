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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v2"

	"github.com/dom-porter/iaas-provider-lib/internal/providers/contracts"
)

// Config holds all configuration for the iaas tooling
type Config struct {
	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Providers to operate on, in sweep order
	Providers []ProviderConfig `yaml:"providers"`

	// Monitor configuration
	Monitor MonitorConfig `yaml:"monitor"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Sampling    bool   `yaml:"sampling"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Endpoint          string  `yaml:"endpoint"`
	SamplingRatio     float64 `yaml:"samplingRatio"`
	InsecureTransport bool    `yaml:"insecureTransport"`
}

// ProviderConfig selects a backend and its credentials file
type ProviderConfig struct {
	// Type is a provider name such as "oracle" or "netcup"
	Type string `yaml:"type"`
	// ConfigPath is the backend credentials file; empty uses the backend default
	ConfigPath string `yaml:"configPath"`
}

// MonitorConfig holds monitor loop configuration
type MonitorConfig struct {
	Interval   time.Duration `yaml:"interval"`
	ListenAddr string        `yaml:"listenAddr"`

	// MaxConcurrency bounds start calls in flight per provider
	MaxConcurrency int `yaml:"maxConcurrency"`

	// StaleAfter marks the monitor unready when no sweep finished for this long
	StaleAfter time.Duration `yaml:"staleAfter"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	providers := make([]ProviderConfig, 0)
	for _, name := range getEnvSliceWithDefault("IAAS_PROVIDERS", []string{"oracle", "netcup"}) {
		if name = strings.TrimSpace(name); name != "" {
			providers = append(providers, ProviderConfig{Type: name})
		}
	}

	return &Config{
		Log: LogConfig{
			Level:       getEnvWithDefault("LOG_LEVEL", "info"),
			Format:      getEnvWithDefault("LOG_FORMAT", "console"),
			Sampling:    getEnvBoolWithDefault("LOG_SAMPLING", false),
			Development: getEnvBoolWithDefault("LOG_DEVELOPMENT", false),
			File:        getEnvWithDefault("LOG_FILE", ""),
			MaxSizeMB:   getEnvIntWithDefault("LOG_FILE_MAX_SIZE_MB", 1),
			MaxBackups:  getEnvIntWithDefault("LOG_FILE_MAX_BACKUPS", 2),
		},
		Tracing: TracingConfig{
			Enabled:           getEnvBoolWithDefault("IAAS_TRACING_ENABLED", false),
			Endpoint:          getEnvWithDefault("IAAS_TRACING_ENDPOINT", ""),
			SamplingRatio:     getEnvFloatWithDefault("IAAS_TRACING_SAMPLING_RATIO", 1.0),
			InsecureTransport: getEnvBoolWithDefault("IAAS_TRACING_INSECURE", true),
		},
		Providers: providers,
		Monitor: MonitorConfig{
			Interval:       getEnvDurationWithDefault("IAAS_MONITOR_INTERVAL", 5*time.Minute),
			ListenAddr:     getEnvWithDefault("IAAS_MONITOR_LISTEN_ADDR", ":9090"),
			MaxConcurrency: getEnvIntWithDefault("IAAS_MONITOR_MAX_CONCURRENCY", 4),
			StaleAfter:     getEnvDurationWithDefault("IAAS_MONITOR_STALE_AFTER", 15*time.Minute),
		},
	}
}

// Validate checks the configuration for values no component can work with
func (c *Config) Validate() error {
	for i, p := range c.Providers {
		if _, err := p.ProviderType(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Monitor.MaxConcurrency < 1 {
		return fmt.Errorf("monitor.maxConcurrency must be at least 1, got %d", c.Monitor.MaxConcurrency)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// ProviderType parses the configured provider name
func (p ProviderConfig) ProviderType() (contracts.ProviderType, error) {
	return contracts.ParseProviderType(p.Type)
}

// Load returns the defaults overlaid with configFile, if set, and validates the result
func Load(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ProviderConfigPath returns the credentials file configured for providerType,
// or "" when the backend default applies
func (c *Config) ProviderConfigPath(providerType contracts.ProviderType) string {
	for _, p := range c.Providers {
		if p.Type == providerType.String() {
			return p.ConfigPath
		}
	}
	return ""
}

// Manager manages configuration with hot-reload capability
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	watchers []chan *Config
	watcher  *fsnotify.Watcher
	file     string
	log      logr.Logger
}

// NewManager creates a new configuration manager. A configFile that fails to
// load or validate is an error; later reloads that fail keep the old config.
func NewManager(configFile string, log logr.Logger) (*Manager, error) {
	config, err := Load(configFile)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		config:   config,
		watchers: make([]chan *Config, 0),
		file:     configFile,
		log:      log.WithName("config"),
	}

	if configFile != "" {
		if err := manager.setupFileWatcher(); err != nil {
			// configuration is still usable without reloads
			manager.log.Error(err, "Failed to set up config file watcher", "file", configFile)
		}
	}

	return manager, nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch returns a channel that receives configuration updates
func (m *Manager) Watch() <-chan *Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Config, 1)
	m.watchers = append(m.watchers, ch)

	// Send current config immediately
	ch <- m.config

	return ch
}

// Update updates the configuration and notifies watchers
func (m *Manager) Update(config *Config) {
	m.mu.Lock()
	m.config = config
	watchers := make([]chan *Config, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	for _, watcher := range watchers {
		select {
		case watcher <- config:
		default:
			// Channel is full, skip this update
		}
	}
}

// Close stops watching the config file and closes watcher channels
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, watcher := range m.watchers {
		close(watcher)
	}
	m.watchers = nil

	if m.watcher != nil {
		err := m.watcher.Close()
		m.watcher = nil
		return err
	}

	return nil
}

// setupFileWatcher sets up file system notification for config changes
func (m *Manager) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(m.file); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					m.reloadConfig()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Error(err, "Config file watcher error")
			}
		}
	}()

	return nil
}

// reloadConfig reloads configuration from file
func (m *Manager) reloadConfig() {
	config, err := Load(m.file)
	if err != nil {
		m.log.Error(err, "Ignoring config reload", "file", m.file)
		return
	}

	m.log.Info("Configuration reloaded from file", "file", m.file)
	m.Update(config)
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filename string, config *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.UnmarshalStrict(data, config)
}

// Helper functions for environment variable parsing

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
