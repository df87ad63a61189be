// Package flow defines the durable data model for workflow definitions,
// trigger projections, flow sessions, and tasks (see spec.md §3 DATA MODEL).
// Types here are plain data; the behavior that operates on them lives in
// internal/planner, internal/bundler, internal/actor, and internal/store.
package flow

import (
	"encoding/json"
	"time"
)

// ActionKind is the closed enumeration of action kinds a workflow node can
// declare (spec.md §3).
type ActionKind string

const (
	ActionKindTrigger  ActionKind = "trigger"
	ActionKindAction   ActionKind = "action"
	ActionKindResponse ActionKind = "response"
	ActionKindFilter   ActionKind = "filter"
)

// Well-known plugin names. The enumeration is closed for the core; a WASM-hosted
// or otherwise externally registered plugin is modeled as one more registry
// entry (spec.md §9 "Dynamic plugin dispatch").
const (
	PluginHTTP               = "@anything/http"
	PluginJavaScript         = "@anything/javascript"
	PluginFilter             = "@anything/filter"
	PluginFormatter          = "@anything/formatter"
	PluginWebhook            = "@anything/webhook"
	PluginResponse           = "@anything/response"
	PluginAgentToolCall      = "@anything/agent_tool_call"
	PluginAgentToolCallReply = "@anything/agent_tool_call_response"
)

// Stage distinguishes a test invocation from a production run.
type Stage string

const (
	StageTesting    Stage = "testing"
	StageProduction Stage = "production"
)

// SessionStatus is the coarse-grained lifecycle state of a FlowSession or a
// Task's enclosing session, as seen from outside (spec.md §3).
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// TaskStatus is the per-task state machine (spec.md §4.4 "State machine").
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// Action is one node in a workflow's DAG (spec.md §3).
type Action struct {
	ID                 string          `json:"id" bson:"id"`
	Kind               ActionKind      `json:"kind" bson:"kind"`
	PluginName         string          `json:"plugin_name" bson:"plugin_name"`
	PluginVersion      string          `json:"plugin_version" bson:"plugin_version"`
	Label              string          `json:"label" bson:"label"`
	Input              json.RawMessage `json:"input" bson:"input"`
	InputSchema        json.RawMessage `json:"input_schema" bson:"input_schema"`
	PluginConfig       json.RawMessage `json:"plugin_config" bson:"plugin_config"`
	PluginConfigSchema json.RawMessage `json:"plugin_config_schema" bson:"plugin_config_schema"`
}

// Edge is a directed edge between two action identifiers. The wire format
// (spec.md §6) also carries optional handle/type metadata from the visual
// editor; the core ignores it beyond round-tripping it for inspection.
type Edge struct {
	ID           string `json:"id" bson:"id"`
	Source       string `json:"source" bson:"source"`
	Target       string `json:"target" bson:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" bson:"source_handle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" bson:"target_handle,omitempty"`
	Type         string `json:"type,omitempty" bson:"type,omitempty"`
}

// Definition is a `flow_definition`: an ordered sequence of actions plus a
// set of directed edges (spec.md §3).
type Definition struct {
	Actions []Action `json:"actions" bson:"actions"`
	Edges   []Edge   `json:"edges" bson:"edges"`
}

// Version is an immutable, versioned workflow record (spec.md §3, §6
// `flow_versions` table).
type Version struct {
	FlowVersionID string     `bson:"flow_version_id"`
	FlowID        string     `bson:"flow_id"`
	AccountID     string     `bson:"account_id"`
	Published     bool       `bson:"published"`
	Definition    Definition `bson:"flow_definition"`
}

// Trigger is the in-memory projection of a cron trigger action, keyed by
// flow version identifier (spec.md §3).
type Trigger struct {
	AccountID     string
	FlowID        string
	FlowVersionID string
	ActionID      string
	Label         string
	PluginID      string
	CronExpr      string
	LastFired     *time.Time
	NextFire      *time.Time
	Version       Version
}

// Session is the runtime instance of one workflow execution (spec.md §3).
type Session struct {
	SessionID            string
	FlowID                string
	FlowVersionID         string
	TriggerSessionID      string
	Status                SessionStatus
	TriggerSessionStatus  SessionStatus
	Stage                 Stage
	CreatedAt             time.Time
	AccountID             string
}

// TaskError is the structured error recorded on a failed task, mirroring
// the original `anything-server` task error shape (see SPEC_FULL.md
// "Supplemented features" item 3) instead of a bare string.
type TaskError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// Task is a durable unit of work: one runtime attempt of an action within a
// session (spec.md §3).
type Task struct {
	TaskID          string          `bson:"task_id"`
	FlowSessionID   string          `bson:"flow_session_id"`
	FlowID          string          `bson:"flow_id"`
	FlowVersionID   string          `bson:"flow_version_id"`
	AccountID       string          `bson:"account_id"`
	ActionID        string          `bson:"action_id"`
	ActionLabel     string          `bson:"action_label"`
	Kind            ActionKind      `bson:"type"`
	PluginName      string          `bson:"plugin_name"`
	PluginVersion   string          `bson:"plugin_version"`
	Stage           Stage           `bson:"stage"`
	ProcessingOrder int             `bson:"processing_order"`
	Status          TaskStatus      `bson:"task_status"`
	Config          TaskConfig      `bson:"config"`
	Result          json.RawMessage `bson:"result,omitempty"`
	Context         json.RawMessage `bson:"context,omitempty"`
	Error           *TaskError      `bson:"error,omitempty"`
	StartedAt       *time.Time      `bson:"started_at,omitempty"`
	EndedAt         *time.Time      `bson:"ended_at,omitempty"`
}

// TaskConfig is the resolved input, schemas, and plugin config bundled for
// one task invocation (spec.md §3 Task "config").
type TaskConfig struct {
	Input              json.RawMessage `bson:"input"`
	InputSchema         json.RawMessage `bson:"input_schema"`
	PluginConfig        json.RawMessage `bson:"plugin_config"`
	PluginConfigSchema  json.RawMessage `bson:"plugin_config_schema"`
}

// ProcessorMessage is the transient unit of work handed from a scheduling
// source to the dispatcher (spec.md §3).
type ProcessorMessage struct {
	FlowID           string
	FlowVersion      Version
	SessionID        string
	TriggerSessionID string
	TriggerTask      *Action
	TaskID           string
	Stage            Stage
}
