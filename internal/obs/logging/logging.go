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

package logging

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey represents the type for context keys
type ContextKey string

const (
	// ProviderKey is the context key for the provider name
	ProviderKey ContextKey = "provider"
	// VMKey is the context key for the provider-native VM id
	VMKey ContextKey = "vm"
	// OperationKey is the context key for the capability or wire operation
	OperationKey ContextKey = "operation"
	// SweepKey is the context key for the monitor sweep number
	SweepKey ContextKey = "sweep"
)

// Config holds logging configuration
type Config struct {
	Level        string
	Format       string // json or console
	Sampling     bool
	Development  bool
	SamplingRate int
	// File, when set, receives a copy of every log line and is rotated
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:        getEnvWithDefault("LOG_LEVEL", "info"),
		Format:       getEnvWithDefault("LOG_FORMAT", "console"),
		Sampling:     getEnvBoolWithDefault("LOG_SAMPLING", false),
		Development:  getEnvBoolWithDefault("LOG_DEVELOPMENT", false),
		SamplingRate: getEnvIntWithDefault("LOG_SAMPLING_RATE", 100),
		File:         getEnvWithDefault("LOG_FILE", ""),
		MaxSizeMB:    getEnvIntWithDefault("LOG_FILE_MAX_SIZE_MB", 1),
		MaxBackups:   getEnvIntWithDefault("LOG_FILE_MAX_BACKUPS", 2),
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger = logr.Discard()
)

// Setup builds the process logger and installs it as the global logger
func Setup(config *Config) (logr.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.Format == "json" {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := zap.NewAtomicLevelAt(parseLevel(config.Level))

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if config.File != "" {
		// File output is always JSON so it stays machine readable
		fileEncoderConfig := zap.NewProductionEncoderConfig()
		fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	if config.Sampling {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, config.SamplingRate)
	}

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	logger := zapr.NewLogger(zapLogger)
	SetGlobal(logger)

	return logger, nil
}

// parseLevel maps a level name to a zap level. "trace" enables logr V(2).
func parseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "trace":
		return zapcore.Level(-2)
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetGlobal replaces the logger used when a context carries none
func SetGlobal(logger logr.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// Global returns the process logger
func Global() logr.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// IntoContext stores logger in ctx
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// FromContext returns a logger with correlation fields from context
func FromContext(ctx context.Context) logr.Logger {
	logger, err := logr.FromContext(ctx)
	if err != nil {
		logger = Global()
	}
	return enrichLogger(ctx, logger)
}

// WithProvider adds the provider name to context
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ProviderKey, provider)
}

// WithVM adds the VM id to context
func WithVM(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, VMKey, id)
}

// WithOperation adds the operation name to context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithSweep adds the monitor sweep number to context
func WithSweep(ctx context.Context, sweep int64) context.Context {
	return context.WithValue(ctx, SweepKey, sweep)
}

// enrichLogger adds correlation fields from context to logger
func enrichLogger(ctx context.Context, logger logr.Logger) logr.Logger {
	fields := make([]interface{}, 0, 8)

	if val := ctx.Value(SweepKey); val != nil {
		fields = append(fields, "sweep", val)
	}
	if val := ctx.Value(ProviderKey); val != nil {
		fields = append(fields, "provider", val)
	}
	if val := ctx.Value(VMKey); val != nil {
		fields = append(fields, "vm", val)
	}
	if val := ctx.Value(OperationKey); val != nil {
		fields = append(fields, "operation", val)
	}

	if len(fields) > 0 {
		return logger.WithValues(fields...)
	}
	return logger
}

// Redactor provides secure logging by redacting sensitive information
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with common sensitive patterns
func NewRedactor() *Redactor {
	patterns := []*regexp.Regexp{
		// Passwords in URLs
		regexp.MustCompile(`://[^:/]*:([^@]*?)@`),
		// Webservice password element in SOAP envelopes
		regexp.MustCompile(`<password>([^<]+)</password>`),
		// API keys and tokens
		regexp.MustCompile(`(?i)(?:api[_-]?key|token|secret|password|passwd|pwd)\s*[:=]\s*["']?([^"'\s]+)["']?`),
	}

	return &Redactor{patterns: patterns}
}

// Redact removes sensitive information from strings
func (r *Redactor) Redact(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			submatches := pattern.FindStringSubmatch(match)
			if len(submatches) > 1 && submatches[1] != "" {
				return strings.Replace(match, submatches[1], "[REDACTED]", 1)
			}
			return match
		})
	}
	return result
}

// RedactMap redacts values in a map
func (r *Redactor) RedactMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}

	result := make(map[string]string, len(input))
	for k, v := range input {
		if isSensitiveKey(k) {
			result[k] = "[REDACTED]"
		} else {
			result[k] = r.Redact(v)
		}
	}
	return result
}

// Global redactor instance
var globalRedactor = NewRedactor()

// RedactString is a convenience function for global redaction
func RedactString(input string) string {
	return globalRedactor.Redact(input)
}

// RedactMap is a convenience function for global map redaction
func RedactMap(input map[string]string) map[string]string {
	return globalRedactor.RedactMap(input)
}

// isSensitiveKey checks if a key name indicates sensitive data
func isSensitiveKey(key string) bool {
	sensitiveKeys := []string{
		"password", "passwd", "pwd", "secret", "token", "key", "auth",
		"credential", "cred", "pass_phrase", "passphrase",
	}

	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
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
