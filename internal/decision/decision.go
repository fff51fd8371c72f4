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

// Package decision builds the option sets a human-intervention Decision
// presents per escalation source, and validates the structured QuestionData
// payload an agent's Question prompt carries against its own declared JSON
// schema before the engine persists it.
package decision

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/oddjobs/oddjobs/internal/state"
)

// OptionsFor returns the default option set for a decision source, with the
// recommended option (if any) flagged. Gate/Approval/Plan/Question get a
// default set here too, so a caller can always persist a well-formed
// Decision; the engine uses these sets unchanged for every source.
func OptionsFor(source state.DecisionSource) []state.DecisionOption {
	switch source {
	case state.DecisionSourceIdle:
		return []state.DecisionOption{
			{Label: "Nudge", Recommended: true},
			{Label: "Done"},
			{Label: "Cancel"},
			{Label: "Dismiss"},
		}
	case state.DecisionSourceDead:
		return []state.DecisionOption{
			{Label: "Resume", Recommended: true},
			{Label: "Cancel"},
		}
	case state.DecisionSourceError:
		return []state.DecisionOption{
			{Label: "Resume", Recommended: true},
			{Label: "Skip"},
			{Label: "Cancel"},
		}
	case state.DecisionSourceGate:
		return []state.DecisionOption{
			{Label: "Retry"},
			{Label: "Skip"},
			{Label: "Cancel", Recommended: true},
		}
	case state.DecisionSourceApproval:
		return []state.DecisionOption{
			{Label: "Approve", Recommended: true},
			{Label: "Reject"},
		}
	case state.DecisionSourcePlan:
		return []state.DecisionOption{
			{Label: "Approve", Recommended: true},
			{Label: "Revise"},
			{Label: "Reject"},
		}
	case state.DecisionSourceQuestion:
		return []state.DecisionOption{
			{Label: "Respond", Recommended: true},
		}
	default:
		return []state.DecisionOption{{Label: "Dismiss"}}
	}
}

// MarshalOptions encodes an option set the way a DecisionCreated event's
// Options field stores it, falling back to an empty array rather than
// erroring — DecisionOption has no field that can fail to marshal.
func MarshalOptions(options []state.DecisionOption) []byte {
	b, err := json.Marshal(options)
	if err != nil {
		return []byte(`[]`)
	}
	return b
}

// ValidateQuestionData checks that q.Payload conforms to q.Schema. A nil
// QuestionData, or one with no schema attached, is valid by definition — an
// agent's Question prompt is allowed to carry free-form payload without
// requiring callers to declare a schema for it.
func ValidateQuestionData(q *state.QuestionData) error {
	if q == nil || len(q.Schema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(q.Schema, &schemaDoc); err != nil {
		return fmt.Errorf("decision: unmarshal question schema: %w", err)
	}

	var payloadDoc any
	if len(q.Payload) > 0 {
		if err := json.Unmarshal(q.Payload, &payloadDoc); err != nil {
			return fmt.Errorf("decision: unmarshal question payload: %w", err)
		}
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("question.json", schemaDoc); err != nil {
		return fmt.Errorf("decision: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("question.json")
	if err != nil {
		return fmt.Errorf("decision: compile question schema: %w", err)
	}

	if err := schema.Validate(payloadDoc); err != nil {
		return fmt.Errorf("decision: question payload failed schema validation: %w", err)
	}
	return nil
}

// Intent is what Interpret turns a resolved decision's chosen option(s)
// into: the intent the engine acts on. The engine itself still performs the actual
// state transition (resume/advance/terminate/forward) — this just names
// which of those four buckets a choice falls into, so the same mapping
// isn't duplicated at each of the three fixed sources' call sites.
type Intent int

const (
	// IntentRetryOrNudge resumes/nudges the owner (Idle's Nudge, Dead's
	// Resume, Error's Resume).
	IntentRetryOrNudge Intent = iota
	// IntentSkipOrDone advances the owner past the current step without
	// retrying it (Idle's Done, Error's Skip).
	IntentSkipOrDone
	// IntentCancel terminates the owner as failed/cancelled.
	IntentCancel
	// IntentDismiss clears the decision with no further action.
	IntentDismiss
	// IntentForward passes a structured response through to the agent
	// (Gate/Approval/Question/Plan sources).
	IntentForward
)

// Interpret maps a resolved choice on a fixed-option decision (Idle, Dead,
// Error) to its Intent. Gate/Approval/Question/Plan decisions always
// forward, regardless of which option was chosen, since those sources hand
// the agent a structured response rather than picking from a fixed verb set.
func Interpret(source state.DecisionSource, d *state.Decision, choice int) Intent {
	switch source {
	case state.DecisionSourceIdle:
		switch choice {
		case 0:
			return IntentRetryOrNudge
		case 1:
			return IntentSkipOrDone
		case 2:
			return IntentCancel
		default:
			return IntentDismiss
		}
	case state.DecisionSourceDead:
		if choice == 0 {
			return IntentRetryOrNudge
		}
		return IntentCancel
	case state.DecisionSourceError:
		switch choice {
		case 0:
			return IntentRetryOrNudge
		case 1:
			return IntentSkipOrDone
		default:
			return IntentCancel
		}
	default:
		return IntentForward
	}
}
