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

package agent

import (
	"encoding/json"
	"strings"

	oderrors "github.com/oddjobs/oddjobs/pkg/errors"
)

// SessionState is the classification the lifecycle monitor derives from
// the latest well-formed record in an agent's session log.
type SessionState int

const (
	// StateWorking means the agent is mid-turn: processing a tool
	// result, or about to issue one.
	StateWorking SessionState = iota
	// StateWaitingForInput means the agent produced a final text
	// response with no further tool calls — a natural turn-end.
	StateWaitingForInput
	// StateFailed means the latest record carried a classified error.
	StateFailed
	// StateStopBlocked and StateStopAllowed are the cooperative
	// stop-signal fast path (clients that support it skip the
	// text/tool_use heuristic entirely).
	StateStopBlocked
	StateStopAllowed
)

// contentBlock is one element of an assistant message's content array.
type contentBlock struct {
	Type string `json:"type"`
}

// sessionRecord is the shape of a single session-log line. Only the
// fields the classifier needs are modeled; everything else the agent
// client writes is ignored.
type sessionRecord struct {
	Type    string `json:"type"`
	Message *struct {
		Content []contentBlock `json:"content"`
		Error   string         `json:"error"`
	} `json:"message"`
	Error      string  `json:"error"`
	StopReason *string `json:"stop_reason"`
	Stop       string  `json:"stop"` // "blocked" | "allowed", coop fast path
	Usage      *struct {
		InputTokens  int64   `json:"input_tokens"`
		OutputTokens int64   `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	} `json:"usage"`
}

// UsageSample is one session-log line's reported token/cost usage.
type UsageSample struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// ExtractUsage looks for a top-level "usage" object on a session-log line —
// the shape an agent client's final "result"-type record carries after a
// turn completes. Most lines carry no usage field at all; ok is false for
// those as well as for unparseable lines.
func ExtractUsage(line []byte) (UsageSample, bool) {
	line = trimLine(line)
	if len(line) == 0 {
		return UsageSample{}, false
	}
	var rec sessionRecord
	if err := json.Unmarshal(line, &rec); err != nil || rec.Usage == nil {
		return UsageSample{}, false
	}
	return UsageSample{
		InputTokens:  rec.Usage.InputTokens,
		OutputTokens: rec.Usage.OutputTokens,
		CostUSD:      rec.Usage.CostUSD,
	}, true
}

// knownStopReasons are the stop_reason values that don't warrant a
// warning when present on an assistant record.
var knownStopReasons = map[string]bool{
	"":              true,
	"end_turn":      true,
	"tool_use":      true,
	"stop_sequence": true,
	"max_tokens":    true,
}

// ClassifyLine parses one session-log line and returns the state it
// implies. ok is false for a line the parser could not make sense of
// (incomplete trailing JSON from a crash mid-write, binary garbage, or
// simply an empty line) — the caller's job is to keep the previous
// classification in that case, never to treat a parse failure as an
// escalation trigger on its own. warn is non-empty when the record
// carried a stop_reason the parser doesn't recognize; the caller logs it
// but still classifies conservatively as Working.
func ClassifyLine(line []byte) (state SessionState, errMsg string, warn string, ok bool) {
	line = trimLine(line)
	if len(line) == 0 {
		return StateWorking, "", "", false
	}

	var rec sessionRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return StateWorking, "", "", false
	}

	if rec.Stop == "blocked" {
		return StateStopBlocked, "", "", true
	}
	if rec.Stop == "allowed" {
		return StateStopAllowed, "", "", true
	}

	if msg := firstNonEmpty(rec.Error, messageError(rec)); msg != "" {
		return StateFailed, msg, "", true
	}

	if rec.StopReason != nil && !knownStopReasons[*rec.StopReason] {
		return StateWorking, "", "unrecognized stop_reason: " + *rec.StopReason, true
	}

	switch rec.Type {
	case "user":
		return StateWorking, "", "", true
	case "assistant":
		if rec.Message == nil || len(rec.Message.Content) == 0 {
			return StateWaitingForInput, "", "", true
		}
		for _, block := range rec.Message.Content {
			if block.Type == "tool_use" || block.Type == "thinking" {
				return StateWorking, "", "", true
			}
		}
		return StateWaitingForInput, "", "", true
	default:
		// Unrecognized record type with no error attached: treat as
		// still working rather than guessing at an idle transition.
		return StateWorking, "", "", true
	}
}

func messageError(rec sessionRecord) string {
	if rec.Message == nil {
		return ""
	}
	return rec.Message.Error
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func trimLine(line []byte) []byte {
	return []byte(strings.TrimSpace(string(line)))
}

// ClassifyFailure pattern-matches a raw error message against the known
// failure classes. Matching is deliberately loose (case-insensitive
// substring) since agent clients don't share one error vocabulary.
func ClassifyFailure(msg string) oderrors.AgentFailureKind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "429"):
		return oderrors.AgentFailureRateLimited
	case containsAny(lower, "unauthorized", "invalid api key", "invalid_api_key", "401", "forbidden", "403"):
		return oderrors.AgentFailureUnauthorized
	case containsAny(lower, "out of credit", "insufficient credit", "quota exceeded", "billing"):
		return oderrors.AgentFailureOutOfCredits
	case containsAny(lower, "no internet", "network unreachable", "dns", "connection refused", "econnrefused"):
		return oderrors.AgentFailureNoInternet
	default:
		return oderrors.AgentFailureOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
