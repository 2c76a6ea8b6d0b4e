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

package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	otrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dom-porter/iaas-provider-lib/internal/obs/logging"
)

const (
	// Service names
	ServiceCLI     = "iaasctl"
	ServiceMonitor = "iaas-monitor"

	tracerName = "github.com/dom-porter/iaas-provider-lib"
)

// Config holds tracing configuration
type Config struct {
	Enabled           bool
	Endpoint          string
	ServiceName       string
	ServiceVersion    string
	SamplingRatio     float64
	InsecureTransport bool
}

// DefaultConfig returns default tracing configuration
func DefaultConfig(serviceName, version string) *Config {
	return &Config{
		Enabled:           getEnvBool("IAAS_TRACING_ENABLED", false),
		Endpoint:          getEnv("IAAS_TRACING_ENDPOINT", ""),
		ServiceName:       serviceName,
		ServiceVersion:    version,
		SamplingRatio:     getEnvFloat("IAAS_TRACING_SAMPLING_RATIO", 1.0),
		InsecureTransport: getEnvBool("IAAS_TRACING_INSECURE", true),
	}
}

// Setup initializes OpenTelemetry tracing and returns a shutdown func
func Setup(ctx context.Context, config *Config) (func(), error) {
	if !config.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() {}, nil
	}

	if config.Endpoint == "" {
		return nil, fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
	}
	if config.InsecureTransport {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("service.namespace", "iaas"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.SamplingRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logging.Global().Error(err, "Failed to shut down tracer provider")
		}
	}, nil
}

// StartSpan starts a new span with the given name and options
func StartSpan(ctx context.Context, name string, opts ...otrace.SpanStartOption) (context.Context, otrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	otrace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError records err on the current span and marks it failed
func RecordError(ctx context.Context, err error) {
	span := otrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Common attribute keys
var (
	// VM attributes
	AttrVMID   = attribute.Key("vm.id")
	AttrVMName = attribute.Key("vm.name")

	// Provider attributes
	AttrProvider         = attribute.Key("provider.type")
	AttrProviderEndpoint = attribute.Key("provider.endpoint")

	// Operation attributes
	AttrOperation = attribute.Key("operation")
	AttrOutcome   = attribute.Key("outcome")

	// Wire call attributes
	AttrCallMethod = attribute.Key("call.method")
	AttrFaultKind  = attribute.Key("fault.kind")

	// Monitor attributes
	AttrSweep = attribute.Key("monitor.sweep")
)

// Span names for common operations
const (
	SpanMonitorSweep = "monitor.sweep"
	SpanIPDiscovery  = "ip.discovery"
)

// StartProviderSpan starts a span for a provider capability
func StartProviderSpan(ctx context.Context, operation, provider string) (context.Context, otrace.Span) {
	return StartSpan(ctx, fmt.Sprintf("provider.%s", operation),
		otrace.WithAttributes(
			AttrProvider.String(provider),
			AttrOperation.String(operation),
		),
	)
}

// StartCallSpan starts a client span for one remote call
func StartCallSpan(ctx context.Context, method, provider string) (context.Context, otrace.Span) {
	return StartSpan(ctx, fmt.Sprintf("call.%s", method),
		otrace.WithSpanKind(otrace.SpanKindClient),
		otrace.WithAttributes(
			AttrCallMethod.String(method),
			AttrProvider.String(provider),
		),
	)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
