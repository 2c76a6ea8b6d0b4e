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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	otrace "go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	previous := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()

	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), &Config{Enabled: true})
	assert.Error(t, err)
}

func TestStartProviderSpan(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := StartProviderSpan(context.Background(), "Start", "netcup")
	SetAttributes(ctx, AttrVMID.String("v1"))
	RecordError(ctx, errors.New("action not allowed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "provider.Start", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), AttrProvider.String("netcup"))
	assert.Contains(t, ended[0].Attributes(), AttrVMID.String("v1"))
}

func TestStartCallSpan(t *testing.T) {
	recorder := recordSpans(t)

	_, span := StartCallSpan(context.Background(), "vServerStart", "netcup")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "call.vServerStart", ended[0].Name())
	assert.Equal(t, otrace.SpanKindClient, ended[0].SpanKind())
	assert.Contains(t, ended[0].Attributes(), AttrCallMethod.String("vServerStart"))
}
