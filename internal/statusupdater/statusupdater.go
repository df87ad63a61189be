// Package statusupdater implements the Status Updater component (spec.md
// §4.2): the single consumer of a durable-write request stream. Adapted
// from the original `status_updater/mod.rs` retry/backoff shape and the
// teacher's hooks.Bus for change-notification fan-out.
package statusupdater

import (
	"context"
	"fmt"
	"time"

	"flowengine/internal/engineerr"
	"flowengine/internal/flow"
	"flowengine/internal/hooks"
	"flowengine/internal/store"
	"flowengine/internal/telemetry"
)

// Operation is a sum type over the three durable-write requests the Status
// Updater accepts (spec.md §4.2).
type Operation struct {
	CreateTask       *flow.Task
	UpdateTask       *UpdateTaskOp
	CompleteWorkflow *CompleteWorkflowOp
}

// UpdateTaskOp carries the fields of an UpdateTask(...) message.
type UpdateTaskOp struct {
	TaskID    string
	Status    flow.TaskStatus
	Result    []byte
	Context   []byte
	Error     *flow.TaskError
	StartedAt *time.Time
	EndedAt   *time.Time
}

// CompleteWorkflowOp carries the fields of a CompleteWorkflow(...) message.
type CompleteWorkflowOp struct {
	SessionID     string
	FlowStatus    flow.SessionStatus
	TriggerStatus flow.SessionStatus
}

// Message is one unit on the status-update channel.
type Message struct {
	Op Operation
}

const (
	maxAttempts      = 3
	backoffPerAttempt = 500 * time.Millisecond
	recvTimeout      = 30 * time.Second
)

// Updater is the single consumer of an unbounded channel of status-update
// messages (spec.md §4.2). Construct with New and run Run in its own
// goroutine; send messages via Send.
type Updater struct {
	store   store.Store
	bus     hooks.Bus
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	ch chan Message
}

// New constructs an Updater. The channel is unbounded in spirit (spec.md
// §4.2 "unbounded channel") but Go channels require a capacity; a large
// buffer combined with a goroutine-per-Send fallback approximates
// unboundedness without silently dropping messages under backpressure.
func New(st store.Store, bus hooks.Bus, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Updater {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Updater{
		store:   st,
		bus:     bus,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		ch:      make(chan Message, 4096),
	}
}

// Send enqueues a status-update message. It never blocks indefinitely: if
// the buffered channel is full, it spawns a goroutine to deliver the
// message so producers (task actors, workflow actors) are never stalled by
// a slow consumer, matching the "unbounded channel" intent of spec.md §4.2.
func (u *Updater) Send(ctx context.Context, msg Message) {
	select {
	case u.ch <- msg:
	default:
		go func() {
			select {
			case u.ch <- msg:
			case <-ctx.Done():
			}
		}()
	}
}

// Run processes messages serially until shutdown is closed. Each message is
// attempted up to three times with backoff of 500ms * attempt (spec.md
// §4.2). Receive uses a 30s timeout so shutdown can be observed even with
// no traffic; closure of the channel while shutdown is not yet signaled is
// treated as a transient oddity (spec.md §4.2, §7 "Channel closure...
// treated as transient at the status updater").
func (u *Updater) Run(ctx context.Context, shutdown <-chan struct{}) {
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		select {
		case <-shutdown:
			return
		case msg, ok := <-u.ch:
			if !ok {
				u.logger.Warn(ctx, "status updater channel closed unexpectedly, continuing")
				u.ch = make(chan Message, 4096)
				continue
			}
			u.process(ctx, msg)
		case <-time.After(recvTimeout):
			// liveness tick only, loop back to check shutdown
		}
	}
}

func (u *Updater) process(ctx context.Context, msg Message) {
	spanCtx, span := u.tracer.Start(ctx, "statusupdater.process")
	defer span.End()

	var err error
	var event hooks.Event
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		event, err = u.apply(spanCtx, msg.Op)
		if err == nil {
			break
		}
		cat := engineerr.CategorizeWriteError(err)
		u.logger.Warn(spanCtx, "status write attempt failed", "attempt", attempt, "category", string(cat), "error", err.Error())
		if attempt < maxAttempts {
			time.Sleep(backoffPerAttempt * time.Duration(attempt))
		}
	}

	if err != nil {
		cat := engineerr.CategorizeWriteError(err)
		u.logger.Error(spanCtx, "status write exhausted retries, dropping", "category", string(cat), "error", err.Error())
		u.metrics.IncCounter("statusupdater.write.failed", 1, "category", string(cat))
		span.RecordError(err)
		return
	}

	u.metrics.IncCounter("statusupdater.write.succeeded", 1)
	if u.bus != nil {
		if pubErr := u.bus.Publish(spanCtx, event); pubErr != nil {
			u.logger.Warn(spanCtx, "change-notification publish failed", "error", pubErr.Error())
		}
	}
}

func (u *Updater) apply(ctx context.Context, op Operation) (hooks.Event, error) {
	switch {
	case op.CreateTask != nil:
		t := *op.CreateTask
		if err := u.store.InsertTask(ctx, t); err != nil {
			return hooks.Event{}, fmt.Errorf("insert task: %w", err)
		}
		return hooks.Event{Type: hooks.TaskCreated, SessionID: t.FlowSessionID, TaskID: t.TaskID, Task: &t}, nil

	case op.UpdateTask != nil:
		o := op.UpdateTask
		patch := store.TaskPatch{Status: o.Status, Result: o.Result, Context: o.Context, Error: o.Error}
		if o.StartedAt != nil {
			ns := o.StartedAt.UnixNano()
			patch.StartedAt = &ns
		}
		if o.EndedAt != nil {
			ns := o.EndedAt.UnixNano()
			patch.EndedAt = &ns
		}
		if err := u.store.UpdateTask(ctx, o.TaskID, patch); err != nil {
			return hooks.Event{}, fmt.Errorf("update task: %w", err)
		}
		return hooks.Event{Type: hooks.TaskUpdated, TaskID: o.TaskID}, nil

	case op.CompleteWorkflow != nil:
		o := op.CompleteWorkflow
		if err := u.store.UpdateSessionStatus(ctx, o.SessionID, o.FlowStatus, o.TriggerStatus); err != nil {
			return hooks.Event{}, fmt.Errorf("complete workflow: %w", err)
		}
		return hooks.Event{
			Type: hooks.WorkflowFinished, SessionID: o.SessionID,
			FlowStatus: o.FlowStatus, TriggerStatus: o.TriggerStatus,
		}, nil

	default:
		return hooks.Event{}, fmt.Errorf("empty operation")
	}
}
