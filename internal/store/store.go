// Package store defines the durable-store interface consumed by the Status
// Updater and the Trigger Engine (spec.md §6 EXTERNAL INTERFACES). The core
// owns no schema migration; it only reads/writes the rows described there.
package store

import (
	"context"
	"errors"

	"flowengine/internal/flow"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable-store contract. Reads serve workflow-version lookups
// and trigger hydration; writes are funneled exclusively through the Status
// Updater (spec.md §3 Ownership: "The status updater is the sole writer to
// the durable store for runtime state").
type Store interface {
	// FlowVersion fetches one workflow-version row by id.
	FlowVersion(ctx context.Context, flowVersionID string) (flow.Version, error)

	// PublishedTriggerVersions fetches all published, trigger-bearing
	// workflow-versions, used by the Trigger Engine's hydration step
	// (spec.md §4.1).
	PublishedTriggerVersions(ctx context.Context) ([]flow.Version, error)

	// InsertTask inserts a new task row.
	InsertTask(ctx context.Context, task flow.Task) error

	// UpdateTask updates an existing task row by id. Status is always
	// applied; the other patch fields are applied only when non-nil, so
	// callers set exactly the fields named in spec.md §4.2's UpdateTask
	// message.
	UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error

	// UpdateSessionStatus updates a session's flow/trigger status by id.
	UpdateSessionStatus(ctx context.Context, sessionID string, flowStatus, triggerStatus flow.SessionStatus) error
}

// TaskPatch carries the subset of Task fields a status-update message may
// mutate. Pointer/optional fields are nil when the corresponding message
// field was not supplied (spec.md §4.2 UpdateTask(...optional fields...)).
type TaskPatch struct {
	Status    flow.TaskStatus
	Result    []byte
	Context   []byte
	Error     *flow.TaskError
	StartedAt *int64 // unix nanos, nil if not set by this update
	EndedAt   *int64
}
