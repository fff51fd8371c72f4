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

// Package metrics exposes the daemon's prometheus collectors (queue depth,
// step duration, cron fire/skip counts, agent token/cost usage) plus the
// rotated usage.jsonl writer. Collectors are package-level, matching the
// pattern the rest of the pack's metrics packages use, since a process
// only ever runs one daemon and there is no reason to thread a registry
// handle through every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oddjobs_queue_depth",
			Help: "Current number of pending items on a persisted queue.",
		},
		[]string{"queue"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oddjobs_step_duration_seconds",
			Help:    "Wall-clock duration of a job step from StepStarted to StepCompleted/StepFailed.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
		},
		[]string{"job_kind", "step", "outcome"},
	)

	cronFireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oddjobs_cron_fire_total",
			Help: "Total number of times a cron's schedule fired and dispatched a run.",
		},
		[]string{"cron"},
	)

	cronSkipTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oddjobs_cron_skip_total",
			Help: "Total number of times a cron's schedule fired but was skipped.",
		},
		[]string{"cron", "reason"},
	)

	usageTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oddjobs_agent_tokens_total",
			Help: "Total input/output tokens reported by agent sessions.",
		},
		[]string{"agent_name", "direction"},
	)

	usageCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oddjobs_agent_cost_usd_total",
			Help: "Total cost in USD reported by agent sessions.",
		},
		[]string{"agent_name"},
	)
)

// SetQueueDepth records the current pending-item count for a queue.
func SetQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveStepDuration records how long a step ran before reaching
// StepCompleted ("ok") or StepFailed ("failed").
func ObserveStepDuration(jobKind, step, outcome string, d time.Duration) {
	stepDuration.WithLabelValues(jobKind, step, outcome).Observe(d.Seconds())
}

// RecordCronFire increments a cron's fire counter.
func RecordCronFire(cron string) {
	cronFireTotal.WithLabelValues(cron).Inc()
}

// RecordCronSkip increments a cron's skip counter, tagged with why it was
// skipped (e.g. "concurrency_limit", "overlap_policy_skip").
func RecordCronSkip(cron, reason string) {
	cronSkipTotal.WithLabelValues(cron, reason).Inc()
}

// RecordUsage folds one polled usage sample into the token/cost counters.
// Zero-valued samples (an agent that hasn't reported usage yet) still
// increment by zero — callers don't need to special-case that themselves.
func RecordUsage(agentName string, inputTokens, outputTokens int64, costUSD float64) {
	usageTokensTotal.WithLabelValues(agentName, "input").Add(float64(inputTokens))
	usageTokensTotal.WithLabelValues(agentName, "output").Add(float64(outputTokens))
	usageCostTotal.WithLabelValues(agentName).Add(costUSD)
}
