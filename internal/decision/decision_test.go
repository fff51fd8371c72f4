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

package decision

import (
	"testing"

	"github.com/oddjobs/oddjobs/internal/state"
	"github.com/stretchr/testify/require"
)

func TestOptionsForIdleHasNudgeRecommended(t *testing.T) {
	opts := OptionsFor(state.DecisionSourceIdle)
	require.Equal(t, []string{"Nudge", "Done", "Cancel", "Dismiss"}, labels(opts))
	require.True(t, opts[0].Recommended)
}

func TestOptionsForDeadAndError(t *testing.T) {
	require.Equal(t, []string{"Resume", "Cancel"}, labels(OptionsFor(state.DecisionSourceDead)))
	require.Equal(t, []string{"Resume", "Skip", "Cancel"}, labels(OptionsFor(state.DecisionSourceError)))
}

func TestOptionsForPromptLikeSourcesHaveDefaults(t *testing.T) {
	gate := OptionsFor(state.DecisionSourceGate)
	require.Equal(t, []string{"Retry", "Skip", "Cancel"}, labels(gate))
	require.True(t, gate[2].Recommended)

	question := OptionsFor(state.DecisionSourceQuestion)
	require.Equal(t, []string{"Respond"}, labels(question))

	approval := OptionsFor(state.DecisionSourceApproval)
	require.Equal(t, []string{"Approve", "Reject"}, labels(approval))

	plan := OptionsFor(state.DecisionSourcePlan)
	require.Equal(t, []string{"Approve", "Revise", "Reject"}, labels(plan))
}

func labels(opts []state.DecisionOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Label
	}
	return out
}

func TestValidateQuestionDataNilOrNoSchemaIsValid(t *testing.T) {
	require.NoError(t, ValidateQuestionData(nil))
	require.NoError(t, ValidateQuestionData(&state.QuestionData{}))
}

func TestValidateQuestionDataAcceptsConformingPayload(t *testing.T) {
	q := &state.QuestionData{
		Schema:  []byte(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`),
		Payload: []byte(`{"answer":"yes"}`),
	}
	require.NoError(t, ValidateQuestionData(q))
}

func TestValidateQuestionDataRejectsNonConformingPayload(t *testing.T) {
	q := &state.QuestionData{
		Schema:  []byte(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`),
		Payload: []byte(`{"wrong":true}`),
	}
	require.Error(t, ValidateQuestionData(q))
}

func TestValidateQuestionDataRejectsMalformedSchema(t *testing.T) {
	q := &state.QuestionData{
		Schema:  []byte(`not json`),
		Payload: []byte(`{}`),
	}
	require.Error(t, ValidateQuestionData(q))
}

func TestInterpretIdleChoices(t *testing.T) {
	require.Equal(t, IntentRetryOrNudge, Interpret(state.DecisionSourceIdle, nil, 0))
	require.Equal(t, IntentSkipOrDone, Interpret(state.DecisionSourceIdle, nil, 1))
	require.Equal(t, IntentCancel, Interpret(state.DecisionSourceIdle, nil, 2))
	require.Equal(t, IntentDismiss, Interpret(state.DecisionSourceIdle, nil, 3))
}

func TestInterpretDeadChoices(t *testing.T) {
	require.Equal(t, IntentRetryOrNudge, Interpret(state.DecisionSourceDead, nil, 0))
	require.Equal(t, IntentCancel, Interpret(state.DecisionSourceDead, nil, 1))
}

func TestInterpretErrorChoices(t *testing.T) {
	require.Equal(t, IntentRetryOrNudge, Interpret(state.DecisionSourceError, nil, 0))
	require.Equal(t, IntentSkipOrDone, Interpret(state.DecisionSourceError, nil, 1))
	require.Equal(t, IntentCancel, Interpret(state.DecisionSourceError, nil, 2))
}

func TestInterpretQuestionLikeSourcesAlwaysForwards(t *testing.T) {
	require.Equal(t, IntentForward, Interpret(state.DecisionSourceQuestion, nil, 0))
	require.Equal(t, IntentForward, Interpret(state.DecisionSourceGate, nil, 1))
	require.Equal(t, IntentForward, Interpret(state.DecisionSourceApproval, nil, 2))
	require.Equal(t, IntentForward, Interpret(state.DecisionSourcePlan, nil, 0))
}
