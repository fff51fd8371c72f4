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

package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, sdktrace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp.Tracer("test")
}

func TestStartEffectNamesSpanAfterEffectKind(t *testing.T) {
	sr, tracer := newRecordingTracer(t)

	_, span := StartEffect(context.Background(), tracer, effects.SpawnAgent{AgentName: "fixer", Resume: true})
	span.End(nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "effect.spawn_agent", spans[0].Name())

	attrs := spans[0].Attributes()
	require.Contains(t, attrs, attribute.String("agent.name", "fixer"))
	require.Equal(t, sdktrace.Status{Code: 2}, spans[0].Status()) // codes.Ok == 2
}

func TestStartEffectRecordsErrorStatus(t *testing.T) {
	sr, tracer := newRecordingTracer(t)

	_, span := StartEffect(context.Background(), tracer, effects.Shell{Step: "build"})
	span.End(errors.New("boom"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "effect.shell", spans[0].Name())
	require.Equal(t, sdktrace.Status{Code: 1, Description: "boom"}, spans[0].Status()) // codes.Error == 1
	require.NotEmpty(t, spans[0].Events())
}

func TestEffectSpanEndIsNilSafe(t *testing.T) {
	var span *EffectSpan
	require.NotPanics(t, func() { span.End(errors.New("whatever")) })
}

func TestDescribeEffectCoversEveryKnownEffect(t *testing.T) {
	cases := []struct {
		name string
		eff  effects.Effect
		want string
	}{
		{"spawn", effects.SpawnAgent{}, "effect.spawn_agent"},
		{"shell", effects.Shell{}, "effect.shell"},
		{"create_workspace", effects.CreateWorkspace{Type: "worktree"}, "effect.create_workspace"},
		{"delete_workspace", effects.DeleteWorkspace{Path: "/tmp/x"}, "effect.delete_workspace"},
		{"poll_queue", effects.PollQueue{}, "effect.poll_queue"},
		{"take_queue_item", effects.TakeQueueItem{}, "effect.take_queue_item"},
		{"unrecognized", effects.Notify{}, "effect.dispatch"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			name, _ := describeEffect(c.eff)
			require.Equal(t, c.want, name)
		})
	}
}
