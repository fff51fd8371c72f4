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

// Package events defines the event taxonomy that flows through the write
// ahead log: every fact the runtime persists and later replays. Kinds are a
// closed, exhaustively-matched union with one forward-compatible escape
// hatch (Custom) so an older daemon reading a newer log degrades instead of
// refusing to start.
package events

// Kind discriminates an Event's payload type.
type Kind string

const (
	// System
	KindShutdown Kind = "Shutdown"

	// Runbook
	KindRunbookLoaded Kind = "RunbookLoaded"
	KindCommandRun    Kind = "CommandRun"

	// Job
	KindJobCreated    Kind = "JobCreated"
	KindJobAdvanced   Kind = "JobAdvanced"
	KindJobUpdated    Kind = "JobUpdated"
	KindJobResume     Kind = "JobResume"
	KindJobFailing    Kind = "JobFailing"
	KindJobCancelling Kind = "JobCancelling"
	KindJobCancel     Kind = "JobCancel"
	KindJobSuspending Kind = "JobSuspending"
	KindJobSuspend    Kind = "JobSuspend"
	KindJobDeleted    Kind = "JobDeleted"
	KindJobAttemptRecorded Kind = "JobAttemptRecorded"
	KindCrewAttemptRecorded Kind = "CrewAttemptRecorded"

	// Step
	KindStepStarted   Kind = "StepStarted"
	KindStepWaiting   Kind = "StepWaiting"
	KindStepCompleted Kind = "StepCompleted"
	KindStepFailed    Kind = "StepFailed"

	// Shell
	KindShellExited Kind = "ShellExited"

	// Agent
	KindAgentWorking     Kind = "AgentWorking"
	KindAgentWaiting     Kind = "AgentWaiting"
	KindAgentIdle        Kind = "AgentIdle"
	KindAgentPrompt      Kind = "AgentPrompt"
	KindAgentStopBlocked Kind = "AgentStopBlocked"
	KindAgentStopAllowed Kind = "AgentStopAllowed"
	KindAgentFailed      Kind = "AgentFailed"
	KindAgentExited      Kind = "AgentExited"
	KindAgentGone        Kind = "AgentGone"
	KindAgentInput       Kind = "AgentInput"
	KindAgentRespond     Kind = "AgentRespond"
	KindAgentSpawned     Kind = "AgentSpawned"
	KindAgentSpawnFailed Kind = "AgentSpawnFailed"

	// Crew
	KindCrewCreated Kind = "CrewCreated"
	KindCrewStarted Kind = "CrewStarted"
	KindCrewUpdated Kind = "CrewUpdated"
	KindCrewResume  Kind = "CrewResume"
	KindCrewDeleted Kind = "CrewDeleted"

	// Workspace
	KindWorkspaceCreated Kind = "WorkspaceCreated"
	KindWorkspaceReady   Kind = "WorkspaceReady"
	KindWorkspaceFailed  Kind = "WorkspaceFailed"
	KindWorkspaceDeleted Kind = "WorkspaceDeleted"
	KindWorkspaceDrop    Kind = "WorkspaceDrop"

	// Timer
	KindTimerStart Kind = "TimerStart"

	// Cron
	KindCronStarted Kind = "CronStarted"
	KindCronStopped Kind = "CronStopped"
	KindCronOnce    Kind = "CronOnce"
	KindCronFired   Kind = "CronFired"
	KindCronSkipped Kind = "CronSkipped"
	KindCronDeleted Kind = "CronDeleted"

	// Worker
	KindWorkerStarted   Kind = "WorkerStarted"
	KindWorkerWake      Kind = "WorkerWake"
	KindWorkerPolled    Kind = "WorkerPolled"
	KindWorkerTook      Kind = "WorkerTook"
	KindWorkerDispatched Kind = "WorkerDispatched"
	KindWorkerStopped   Kind = "WorkerStopped"
	KindWorkerResized   Kind = "WorkerResized"
	KindWorkerDeleted   Kind = "WorkerDeleted"

	// Queue
	KindQueuePushed    Kind = "QueuePushed"
	KindQueueTaken     Kind = "QueueTaken"
	KindQueueCompleted Kind = "QueueCompleted"
	KindQueueFailed    Kind = "QueueFailed"
	KindQueueDropped   Kind = "QueueDropped"
	KindQueueRetry     Kind = "QueueRetry"
	KindQueueDead      Kind = "QueueDead"

	// Decision
	KindDecisionCreated  Kind = "DecisionCreated"
	KindDecisionResolved Kind = "DecisionResolved"

	// KindCustom is the forward-compatibility escape hatch: any tag this
	// build doesn't recognize decodes into a Custom payload instead of
	// failing the whole read.
	KindCustom Kind = "Custom"
)
