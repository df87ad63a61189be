package actor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"flowengine/internal/bundler"
	"flowengine/internal/flow"
	"flowengine/internal/planner"
	"flowengine/internal/statusupdater"
	"flowengine/internal/telemetry"
)

// Dispatcher submits one task for execution and reports its terminal state
// on the returned channel. internal/engine/actorpool.Pool satisfies this
// interface (spec.md §4.5 Dispatcher & Actor Pool); the Workflow Actor does
// not know whether execution happens locally or on a durable backend.
type Dispatcher interface {
	Submit(ctx context.Context, task flow.Task, action flow.Action, bundled bundler.Context) <-chan flow.Task
}

// WorkflowDeps bundles the collaborators a Workflow Actor needs (spec.md §4.4).
type WorkflowDeps struct {
	Updater *statusupdater.Updater
	Pool    Dispatcher
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Run is the Workflow Actor's single operation (spec.md §4.4): it builds the
// DAG via the Execution Planner, walks it to completion by repeatedly
// dispatching the ready set, and folds each finished task's result into the
// bundled context for its successors. TriggerResult is the already-computed
// result of the trigger action (the captured webhook/tool-call request, or
// nil for a cron trigger), since the trigger fired before the workflow actor
// started (spec.md §4.1, §4.7).
func Run(ctx context.Context, deps WorkflowDeps, msg flow.ProcessorMessage, triggerResult any) (flow.SessionStatus, error) {
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	spanCtx, span := tracer.Start(ctx, "actor.workflow.run")
	defer span.End()

	graph, err := planner.Build(msg.FlowVersion.Definition)
	if err != nil {
		logger.Error(spanCtx, "workflow graph build failed", "flow_version_id", msg.FlowVersion.FlowVersionID, "error", err.Error())
		return flow.SessionFailed, err
	}

	w := &walker{
		deps:      deps,
		graph:     graph,
		msg:       msg,
		completed: map[string]bool{},
		canceled:  map[string]bool{},
		dispatched: map[string]bool{},
		results:   bundler.Context{},
		order:     0,
		failed:    false,
	}

	// Seed the session identifier into the bundled context so a Response or
	// agent tool-call reply action can address the Synchronous Reply
	// Registry entry (spec.md §4.9) via "{{ session.id }}" without the
	// handler needing out-of-band access to the session.
	w.results["session"] = map[string]any{"id": msg.SessionID}

	trigger := graph.Trigger()
	w.recordTriggerResult(spanCtx, trigger, triggerResult)

	status := w.run(spanCtx)
	metrics.IncCounter("actor.workflow.completed", 1, "status", string(status))
	if deps.Updater != nil {
		deps.Updater.Send(spanCtx, statusupdater.Message{Op: statusupdater.Operation{CompleteWorkflow: &statusupdater.CompleteWorkflowOp{
			SessionID:     msg.SessionID,
			FlowStatus:    status,
			TriggerStatus: status,
		}}})
	}
	return status, nil
}

// WorkflowLimiter optionally bounds concurrently running Workflow Actors
// (spec.md §4.5, the workflow semaphore). internal/engine/actorpool.Pool
// implements it; the Temporal-backed Dispatcher does not, since its
// concurrency is already governed by the Temporal worker's task queue, so
// RunWithLimiter falls back to calling Run directly.
type WorkflowLimiter interface {
	RunWorkflow(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunWithLimiter runs Run under deps.Pool's workflow permit when deps.Pool
// implements WorkflowLimiter, so the two call sites that start a Workflow
// Actor (the trigger engine's cron dispatch and the inbound webhook/tool-
// call HTTP handlers) share the same concurrency bound rather than each
// needing to know about the actor pool's semaphore directly.
func RunWithLimiter(ctx context.Context, deps WorkflowDeps, msg flow.ProcessorMessage, triggerResult any) (flow.SessionStatus, error) {
	limiter, ok := deps.Pool.(WorkflowLimiter)
	if !ok {
		return Run(ctx, deps, msg, triggerResult)
	}
	var status flow.SessionStatus
	err := limiter.RunWorkflow(ctx, func(ctx context.Context) error {
		var runErr error
		status, runErr = Run(ctx, deps, msg, triggerResult)
		return runErr
	})
	return status, err
}

// walker holds the mutable DAG-walk state for one session run.
type walker struct {
	deps  WorkflowDeps
	graph *planner.Graph
	msg   flow.ProcessorMessage

	completed  map[string]bool
	canceled   map[string]bool
	dispatched map[string]bool
	results    bundler.Context
	order      int
	failed     bool
}

func (w *walker) recordTriggerResult(ctx context.Context, trigger flow.Action, triggerResult any) {
	if trigger.ID == "" {
		return
	}
	w.completed[trigger.ID] = true
	w.dispatched[trigger.ID] = true
	w.results[trigger.ID] = triggerResult
	w.emitTriggerTask(ctx, trigger, triggerResult)
}

func (w *walker) emitTriggerTask(ctx context.Context, trigger flow.Action, triggerResult any) {
	if w.deps.Updater == nil {
		return
	}
	now := time.Now()
	resultRaw, _ := marshalOrNil(triggerResult)
	task := flow.Task{
		TaskID:          uuid.NewString(),
		FlowSessionID:   w.msg.SessionID,
		FlowID:          w.msg.FlowID,
		FlowVersionID:   w.msg.FlowVersion.FlowVersionID,
		AccountID:       w.msg.FlowVersion.AccountID,
		ActionID:        trigger.ID,
		ActionLabel:     trigger.Label,
		Kind:            trigger.Kind,
		PluginName:      trigger.PluginName,
		PluginVersion:   trigger.PluginVersion,
		Stage:           w.msg.Stage,
		ProcessingOrder: w.nextOrder(),
		Status:          flow.TaskCompleted,
		Result:          resultRaw,
		StartedAt:       &now,
		EndedAt:         &now,
	}
	w.deps.Updater.Send(ctx, statusupdater.Message{Op: statusupdater.Operation{CreateTask: &task}})
}

func (w *walker) nextOrder() int {
	o := w.order
	w.order++
	return o
}

// run drives the planner's Ready set to a fixed point: dispatch everything
// ready, wait for the next completion, fold its result, repeat (spec.md
// §4.4, §4.6).
func (w *walker) run(ctx context.Context) flow.SessionStatus {
	done := make(chan flow.Task)
	inFlight := 0

	for {
		ready := w.graph.Ready(w.completed, w.dispatched)
		for _, actionID := range ready {
			if w.canceled[actionID] {
				w.dispatched[actionID] = true
				continue
			}
			action, _ := w.graph.Action(actionID)
			task := w.newTask(action)
			w.dispatched[actionID] = true
			inFlight++
			w.dispatchTask(ctx, task, action, done)
		}

		if inFlight == 0 {
			break
		}

		finished := <-done
		inFlight--
		w.fold(ctx, finished)
	}

	if w.failed {
		return flow.SessionFailed
	}
	return flow.SessionCompleted
}

func (w *walker) newTask(action flow.Action) flow.Task {
	return flow.Task{
		TaskID:        uuid.NewString(),
		FlowSessionID: w.msg.SessionID,
		FlowID:        w.msg.FlowID,
		FlowVersionID: w.msg.FlowVersion.FlowVersionID,
		AccountID:     w.msg.FlowVersion.AccountID,
		ActionID:      action.ID,
		ActionLabel:   action.Label,
		Kind:          action.Kind,
		PluginName:    action.PluginName,
		PluginVersion: action.PluginVersion,
		Stage:         w.msg.Stage,
		ProcessingOrder: w.nextOrder(),
		Status:        flow.TaskPending,
		Config: flow.TaskConfig{
			Input:              action.Input,
			InputSchema:        action.InputSchema,
			PluginConfig:       action.PluginConfig,
			PluginConfigSchema: action.PluginConfigSchema,
		},
	}
}

func (w *walker) dispatchTask(ctx context.Context, task flow.Task, action flow.Action, done chan<- flow.Task) {
	if w.deps.Updater != nil {
		created := task
		w.deps.Updater.Send(ctx, statusupdater.Message{Op: statusupdater.Operation{CreateTask: &created}})
	}
	bundledSnapshot := w.snapshotResults()
	resultCh := w.deps.Pool.Submit(ctx, task, action, bundledSnapshot)
	go func() {
		finished := <-resultCh
		done <- finished
	}()
}

func (w *walker) snapshotResults() bundler.Context {
	cp := make(bundler.Context, len(w.results))
	for k, v := range w.results {
		cp[k] = v
	}
	return cp
}

// fold incorporates one finished task into the walk state (spec.md §4.4):
// record completion/failure, feed the bundled context, and — for filter
// short-circuit or task failure — cancel downstream branches (spec.md §8
// "Filter short-circuit").
func (w *walker) fold(ctx context.Context, task flow.Task) {
	var decoded any
	if len(task.Result) > 0 {
		_ = unmarshalInto(task.Result, &decoded)
	}
	w.results[task.ActionID] = decoded

	switch task.Status {
	case flow.TaskCompleted:
		w.completed[task.ActionID] = true
		if task.PluginName == flow.PluginFilter {
			if m, ok := decoded.(map[string]any); ok {
				if cont, ok := m["should_continue"].(bool); ok && !cont {
					w.cancelDescendants(ctx, task.ActionID)
				}
			}
		}
	case flow.TaskFailed:
		w.completed[task.ActionID] = false
		w.failed = true
		w.cancelDescendants(ctx, task.ActionID)
	default:
		w.completed[task.ActionID] = true
	}
}

// cancelDescendants marks every transitive successor of actionID as
// canceled and emits a canceled Task row for each, so a duplicate-fired
// downstream never runs (spec.md §8 invariant: "no successor of T has a
// task in running or completed state").
func (w *walker) cancelDescendants(ctx context.Context, actionID string) {
	queue := w.graph.Successors(actionID)
	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] || w.canceled[id] || w.dispatched[id] {
			continue
		}
		seen[id] = true
		w.canceled[id] = true
		w.emitCanceledTask(ctx, id)
		queue = append(queue, w.graph.Successors(id)...)
	}
}

func (w *walker) emitCanceledTask(ctx context.Context, actionID string) {
	action, ok := w.graph.Action(actionID)
	if !ok || w.deps.Updater == nil {
		return
	}
	task := flow.Task{
		TaskID:          uuid.NewString(),
		FlowSessionID:   w.msg.SessionID,
		FlowID:          w.msg.FlowID,
		FlowVersionID:   w.msg.FlowVersion.FlowVersionID,
		AccountID:       w.msg.FlowVersion.AccountID,
		ActionID:        action.ID,
		ActionLabel:     action.Label,
		Kind:            action.Kind,
		PluginName:      action.PluginName,
		PluginVersion:   action.PluginVersion,
		Stage:           w.msg.Stage,
		ProcessingOrder: w.nextOrder(),
		Status:          flow.TaskCanceled,
	}
	w.deps.Updater.Send(ctx, statusupdater.Message{Op: statusupdater.Operation{CreateTask: &task}})
}
