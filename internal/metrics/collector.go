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

package metrics

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oddjobs/oddjobs/internal/agent"
	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/state"
)

// defaultPollInterval is how often the collector polls every live agent's
// session log for a fresh usage sample.
const defaultPollInterval = 30 * time.Second

// AgentLister supplies the set of agents currently worth polling.
// *state.MaterializedState satisfies this via LiveAgents.
type AgentLister interface {
	LiveAgents() []state.AgentRecord
}

// PathResolver resolves an agent's session-log path. *agent.Router
// satisfies this; it's declared narrowly here rather than imported from
// internal/agent/stream to avoid this package depending on anything but
// the one method it actually calls.
type PathResolver interface {
	SessionLogPath(agentID ids.AgentID) (string, bool)
}

// Collector periodically tails every live agent's session log for usage
// samples, feeding them to the prometheus counters and the rotated
// usage.jsonl writer.
type Collector struct {
	log      *slog.Logger
	clk      clock.Clock
	lister   AgentLister
	resolver PathResolver
	writer   *UsageWriter
	interval time.Duration

	mu      sync.Mutex
	offsets map[ids.AgentID]int64
}

// NewCollector builds a Collector. interval <= 0 uses defaultPollInterval.
func NewCollector(logger *slog.Logger, clk clock.Clock, lister AgentLister, resolver PathResolver, writer *UsageWriter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Collector{
		log:      logger,
		clk:      clk,
		lister:   lister,
		resolver: resolver,
		writer:   writer,
		interval: interval,
		offsets:  make(map[ids.AgentID]int64),
	}
}

// Run polls on a ticker until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

func (c *Collector) pollOnce() {
	for _, a := range c.lister.LiveAgents() {
		path, ok := c.resolver.SessionLogPath(a.ID)
		if !ok {
			continue
		}
		sample, ok := c.latestUsage(a.ID, path)
		if !ok {
			continue
		}
		RecordUsage(a.Name, sample.InputTokens, sample.OutputTokens, sample.CostUSD)
		if c.writer == nil {
			continue
		}
		rec := UsageRecord{
			TimestampMS:  c.clk.Now().UnixMilli(),
			AgentID:      string(a.ID),
			AgentName:    a.Name,
			Owner:        a.Owner.String(),
			InputTokens:  sample.InputTokens,
			OutputTokens: sample.OutputTokens,
			CostUSD:      sample.CostUSD,
		}
		if err := c.writer.Write(rec); err != nil {
			c.log.Warn("metrics collector: failed to append usage record", "agent_id", a.ID, "error", err)
		}
	}
}

// latestUsage reads every new line since the last poll and returns the
// most recent one that carried a usage field, if any.
func (c *Collector) latestUsage(agentID ids.AgentID, path string) (agent.UsageSample, bool) {
	c.mu.Lock()
	offset := c.offsets[agentID]
	c.mu.Unlock()

	lines, newOffset, err := readNewLines(path, offset)
	if err != nil {
		return agent.UsageSample{}, false
	}
	c.mu.Lock()
	c.offsets[agentID] = newOffset
	c.mu.Unlock()

	var latest agent.UsageSample
	found := false
	for _, line := range lines {
		if sample, ok := agent.ExtractUsage(line); ok {
			latest = sample
			found = true
		}
	}
	return latest, found
}

// readNewLines mirrors internal/agent.Monitor's own tail-by-offset helper,
// which internal/agent does not export. The two are kept separate since
// they serve distinct concerns (usage extraction vs. state classification).
func readNewLines(path string, offset int64) ([][]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset, err
	}

	var lines [][]byte
	reader := bufio.NewReader(f)
	newOffset := offset
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			lines = append(lines, line[:len(line)-1])
			newOffset += int64(len(line))
		}
		if err != nil {
			break
		}
	}
	return lines, newOffset, nil
}
