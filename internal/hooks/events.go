package hooks

import "flowengine/internal/flow"

// EventType enumerates the change-notifications the Status Updater emits
// after a successful durable write (spec.md §4.2).
type EventType string

const (
	TaskCreated      EventType = "task_created"
	TaskUpdated      EventType = "task_updated"
	WorkflowFinished EventType = "workflow_finished"
)

// Event is published after every successful status-updater write. Bus
// subscribers include the websocket-facing process (out of scope, spec.md
// §1) and, per SPEC_FULL.md supplemented feature 6, an optional billing
// collaborator that aggregates completed-task counts without the core
// depending on it.
type Event struct {
	Type          EventType
	SessionID     string
	TaskID        string
	Task          *flow.Task
	FlowStatus    flow.SessionStatus
	TriggerStatus flow.SessionStatus
}
