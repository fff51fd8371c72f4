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

	"github.com/oddjobs/oddjobs/internal/effects"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartEffect opens a span named after the effect being dispatched, with
// the owner/agent identifiers the effect carries attached as attributes.
// Callers are expected to call End on the returned EffectSpan once the
// deferred work completes (successfully or not).
func StartEffect(ctx context.Context, tracer trace.Tracer, eff effects.Effect) (context.Context, *EffectSpan) {
	name, attrs := describeEffect(eff)
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
	return ctx, &EffectSpan{span: span}
}

// EffectSpan is the thin handle executor.Dispatch holds onto between
// starting an effect's span and reporting how it went.
type EffectSpan struct {
	span trace.Span
}

// End records err (if any) and closes the span. A nil EffectSpan is a
// no-op so callers that raced past a disabled tracer never nil-panic.
func (s *EffectSpan) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

func describeEffect(eff effects.Effect) (string, []attribute.KeyValue) {
	switch v := eff.(type) {
	case effects.SpawnAgent:
		return "effect.spawn_agent", []attribute.KeyValue{
			attribute.String("agent.name", v.AgentName),
			attribute.Bool("agent.resume", v.Resume),
		}
	case effects.Shell:
		return "effect.shell", []attribute.KeyValue{
			attribute.String("step", v.Step),
		}
	case effects.CreateWorkspace:
		return "effect.create_workspace", []attribute.KeyValue{
			attribute.String("workspace.type", v.Type),
		}
	case effects.DeleteWorkspace:
		return "effect.delete_workspace", []attribute.KeyValue{
			attribute.String("workspace.path", v.Path),
		}
	case effects.PollQueue:
		return "effect.poll_queue", []attribute.KeyValue{
			attribute.String("worker", string(v.Worker)),
		}
	case effects.TakeQueueItem:
		return "effect.take_queue_item", []attribute.KeyValue{
			attribute.String("worker", string(v.Worker)),
			attribute.String("item_id", v.ItemID),
		}
	default:
		return "effect.dispatch", nil
	}
}
