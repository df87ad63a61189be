// Package actor implements the Task Actor and Workflow Actor components
// (spec.md §4.3, §4.4). Grounded on the original `actor_processor/task_actor.rs`
// and `actor_processor/workflow_actor.rs` (status update before/after
// execution, timeout wrapping, fan-out/fan-in, filter short-circuit) and
// the teacher's goroutine-per-unit-of-work shape
// (runtime/agent/runtime/runtime.go).
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowengine/internal/bundler"
	"flowengine/internal/engineerr"
	"flowengine/internal/flow"
	"flowengine/internal/handlers"
	"flowengine/internal/statusupdater"
	"flowengine/internal/telemetry"
)

// HandlerTimeout is the default per-task handler timeout (spec.md §4.3, §5:
// "Per-task 300 s"). Production wiring (cmd/engine) leaves TaskDeps.Timeout
// unset so this default applies; tests inject a short TaskDeps.Timeout to
// exercise the timeout path without a 300s-long run.
const HandlerTimeout = 300 * time.Second

// TaskDeps bundles the collaborators a Task Actor needs (spec.md §4.3).
type TaskDeps struct {
	Handlers *handlers.Registry
	Updater  *statusupdater.Updater
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
	Tracer   telemetry.Tracer

	// Timeout overrides HandlerTimeout when non-zero.
	Timeout time.Duration
}

func (d TaskDeps) handlerTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return HandlerTimeout
}

// ExecuteTask is the Task Actor's single operation (spec.md §4.3):
//
//  1. Emit a running status update (started_at = now).
//  2. Render the task's declared input and plugin config against the
//     bundled context (spec.md §4.8) and invoke the handler bound to
//     plugin_name under HandlerTimeout.
//  3. Emit a terminal status update (completed, failed, or — on timeout —
//     failed with a synthesized timeout error) with ended_at = now.
//
// A task is never retried (spec.md §4.3, §7). The returned flow.Task
// reflects the terminal state so the Workflow Actor can update its
// completed/failed bookkeeping without a second store read.
func ExecuteTask(ctx context.Context, deps TaskDeps, task flow.Task, action flow.Action, bundled bundler.Context) flow.Task {
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

	spanCtx, span := tracer.Start(ctx, "actor.task.execute")
	defer span.End()

	started := time.Now()
	task.Status = flow.TaskRunning
	task.StartedAt = &started
	if deps.Updater != nil {
		deps.Updater.Send(spanCtx, statusupdater.Message{Op: statusupdater.Operation{UpdateTask: &statusupdater.UpdateTaskOp{
			TaskID: task.TaskID, Status: flow.TaskRunning, StartedAt: &started,
		}}})
	}

	renderedInput, err := bundler.RenderJSON(task.Config.Input, bundled)
	if err != nil {
		return finishFailed(spanCtx, deps, task, started, engineerr.Handler("render_input_failed", err))
	}
	renderedConfig, err := bundler.RenderJSON(task.Config.PluginConfig, bundled)
	if err != nil {
		return finishFailed(spanCtx, deps, task, started, engineerr.Handler("render_plugin_config_failed", err))
	}

	if err := validateAgainstSchema(renderedInput, task.Config.InputSchema); err != nil {
		return finishFailed(spanCtx, deps, task, started, engineerr.Validation("input_schema_violation", err))
	}
	if err := validateAgainstSchema(renderedConfig, task.Config.PluginConfigSchema); err != nil {
		return finishFailed(spanCtx, deps, task, started, engineerr.Validation("plugin_config_schema_violation", err))
	}

	handler, ok := deps.Handlers.Lookup(action.PluginName)
	if !ok {
		return finishFailed(spanCtx, deps, task, started, engineerr.Validation("unknown_plugin", handlers.ErrUnknownPlugin{PluginName: action.PluginName}))
	}

	result, runErr := runWithTimeout(spanCtx, handler, handlers.Request{Input: renderedInput, PluginConfig: renderedConfig}, deps.handlerTimeout())
	if runErr != nil {
		var engErr *engineerr.Error
		if asEngineerr(runErr, &engErr) {
			return finishFailed(spanCtx, deps, task, started, engErr)
		}
		return finishFailed(spanCtx, deps, task, started, engineerr.Handler("handler_error", runErr))
	}

	resultRaw, err := json.Marshal(result)
	if err != nil {
		return finishFailed(spanCtx, deps, task, started, engineerr.Handler("result_encode_failed", err))
	}

	ended := time.Now()
	task.Status = flow.TaskCompleted
	task.EndedAt = &ended
	task.Result = resultRaw
	metrics.RecordTimer("actor.task.duration", ended.Sub(started), "plugin_name", action.PluginName, "status", "completed")
	if deps.Updater != nil {
		deps.Updater.Send(spanCtx, statusupdater.Message{Op: statusupdater.Operation{UpdateTask: &statusupdater.UpdateTaskOp{
			TaskID: task.TaskID, Status: flow.TaskCompleted, Result: resultRaw, EndedAt: &ended,
		}}})
	}
	return task
}

// runWithTimeout invokes the handler on its own goroutine and races it
// against timeout. A handler that never returns leaves its goroutine
// running (spec.md §9 "there is no explicit cancel propagation into user
// code... handlers must be written to finish"); the task is still reported
// failed at the timeout boundary.
func runWithTimeout(ctx context.Context, h handlers.Handler, req handlers.Request, timeout time.Duration) (result any, err error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: engineerr.Panic(r)}
			}
		}()
		v, herr := h.Handle(ctx, req)
		done <- outcome{value: v, err: herr}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.value, o.err
	case <-timer.C:
		return nil, engineerr.Timeout("handler_timed_out", fmt.Errorf("handler timed out after %s", timeout))
	}
}

func finishFailed(ctx context.Context, deps TaskDeps, task flow.Task, started time.Time, engErr *engineerr.Error) flow.Task {
	ended := time.Now()
	task.Status = flow.TaskFailed
	task.StartedAt = &started
	task.EndedAt = &ended
	taskErr := engErr.TaskError()
	task.Error = &taskErr

	if deps.Metrics != nil {
		deps.Metrics.RecordTimer("actor.task.duration", ended.Sub(started), "status", "failed")
		deps.Metrics.IncCounter("actor.task.failed", 1, "class", string(engErr.Class))
	}
	if deps.Logger != nil {
		deps.Logger.Warn(ctx, "task failed", "task_id", task.TaskID, "class", string(engErr.Class), "error", engErr.Error())
	}
	if deps.Updater != nil {
		deps.Updater.Send(ctx, statusupdater.Message{Op: statusupdater.Operation{UpdateTask: &statusupdater.UpdateTaskOp{
			TaskID: task.TaskID, Status: flow.TaskFailed, Error: &taskErr, EndedAt: &ended,
		}}})
	}
	return task
}

func asEngineerr(err error, target **engineerr.Error) bool {
	e, ok := err.(*engineerr.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
