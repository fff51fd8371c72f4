// Copyright 2026 The Odd Jobs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps the OpenTelemetry SDK with the one thing the
// executor needs: a span per effect execution, so a slow agent spawn or
// shell step shows up with a trace/span id the daemon's own logs can
// correlate against. There is no remote collector wired up — spans are
// recorded in-process only, which is enough for trace-id log correlation
// and for an operator's own otel-collector sidecar to scrape later if one
// is ever added; see DESIGN.md for why the OTLP/stdout exporters stay
// unwired.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the tracer provider the daemon installs at startup.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// SampleRatio is the fraction of root spans recorded, in [0,1]. 0 (or
	// less) records no span; 1 records every span; values in between use a
	// parent-based ratio sampler so a sampled parent always keeps its
	// children.
	SampleRatio float64
}

// NewProvider builds a TracerProvider tagged with the service's resource
// attributes and installs it as the process-global provider, so any
// package reaching for otel.Tracer(name) picks it up without a second
// wiring point.
func NewProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// newSampler returns NeverSample for ratio<=0, AlwaysSample for ratio>=1
// (the common single-host case, where there's no fan-out volume problem
// to solve) and a parent-based ratio sampler otherwise.
func newSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 {
		return sdktrace.NeverSample()
	}
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Shutdown flushes and releases the provider's resources. Safe to call on
// a nil tp (a daemon that never installed tracing).
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// Tracer is the narrow span-starting capability the executor depends on,
// satisfied by trace.Tracer. Kept as its own name so callers don't need
// to import go.opentelemetry.io/otel/trace just to declare a field.
type Tracer = trace.Tracer
