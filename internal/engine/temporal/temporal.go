// Package temporal adapts the Dispatcher & Actor Pool (spec.md §4.5) onto
// Temporal as a durable execution backend. It is an alternative to
// internal/engine/actorpool: both satisfy actor.Dispatcher, so the Workflow
// Actor (internal/actor.Run) never knows which one is dispatching its tasks.
//
// Grounded on the teacher's runtime/agent/engine/temporal package, which
// wraps the Temporal Go SDK behind the teacher's generic engine.Engine
// interface. This module has no Goa-generated workflows to register against
// that generic interface (the teacher built it to let generated code target
// Temporal, an in-memory engine, or a custom engine interchangeably), so
// rather than port the full engine.Engine/WorkflowContext/Future abstraction
// we use the Temporal SDK directly to back the one operation this module
// actually needs durably: running a single task as a Temporal activity
// inside its own short-lived workflow. The activity runs at most once; a
// failed task is not retried.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"google.golang.org/grpc"

	"flowengine/internal/actor"
	"flowengine/internal/bundler"
	"flowengine/internal/engineerr"
	"flowengine/internal/flow"
	"flowengine/internal/telemetry"
)

const (
	// TaskWorkflowName is the registered Temporal workflow type that wraps a
	// single task execution.
	TaskWorkflowName = "FlowEngineTaskWorkflow"
	// ExecuteTaskActivityName is the registered Temporal activity that
	// actually invokes the action handler via internal/actor.ExecuteTask.
	ExecuteTaskActivityName = "FlowEngineExecuteTaskActivity"

	activityStartToClose = actor.HandlerTimeout + 30*time.Second
)

// Config configures the Temporal-backed Dispatcher.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Dispatcher submits flow tasks as Temporal workflow executions, one
// workflow per task. It satisfies actor.Dispatcher, so it is a drop-in
// replacement for internal/engine/actorpool.Pool when durable,
// cross-process execution is required instead of in-process goroutines.
type Dispatcher struct {
	client      client.Client
	closeClient bool
	taskQueue   string
	taskDeps    actor.TaskDeps

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	worker worker.Worker
}

// taskWorkflowInput is the Temporal-serialized payload carried from Submit
// into the workflow, and from the workflow into the activity.
type taskWorkflowInput struct {
	Task    flow.Task
	Action  flow.Action
	Bundled bundler.Context
}

// New dials the Temporal cluster, registers the task workflow/activity on a
// worker for cfg.TaskQueue, and starts that worker in the background. The
// returned Dispatcher owns the worker and the client; call Close to shut
// both down.
func New(cfg Config, taskDeps actor.TaskDeps, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) (*Dispatcher, error) {
	if cfg.TaskQueue == "" {
		return nil, fmt.Errorf("temporal dispatcher: task queue is required")
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	tracingInterceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return nil, fmt.Errorf("temporal dispatcher: tracing interceptor: %w", err)
	}

	cli, err := client.Dial(client.Options{
		HostPort:     cfg.HostPort,
		Namespace:    cfg.Namespace,
		Interceptors: []interceptor.ClientInterceptor{tracingInterceptor},
		ConnectionOptions: client.ConnectionOptions{
			DialOptions: []grpc.DialOption{grpc.WithChainUnaryInterceptor(loggingUnaryInterceptor(logger))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("temporal dispatcher: dial: %w", err)
	}

	d := &Dispatcher{
		client:      cli,
		closeClient: true,
		taskQueue:   cfg.TaskQueue,
		taskDeps:    taskDeps,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
	}

	w := worker.New(cli, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(taskWorkflow, workflow.RegisterOptions{Name: TaskWorkflowName})
	w.RegisterActivityWithOptions(d.executeTaskActivity, activity.RegisterOptions{Name: ExecuteTaskActivityName})
	if err := w.Start(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("temporal dispatcher: start worker: %w", err)
	}
	d.worker = w

	return d, nil
}

// loggingUnaryInterceptor logs failed gRPC calls underlying the Temporal
// client connection (method name, latency, error — never request/response
// payloads, which may carry task input/result bodies). google.golang.org/grpc
// is carried transitively by go.temporal.io/sdk's client; this is the one
// place this module reaches into it directly, via client.ConnectionOptions'
// standard grpc.DialOption hook, rather than leaving the connection
// unobservable.
func loggingUnaryInterceptor(logger telemetry.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		started := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			logger.Warn(ctx, "temporal grpc call failed", "method", method, "duration", time.Since(started).String(), "error", err.Error())
		}
		return err
	}
}

// Close stops the worker and closes the Temporal client.
func (d *Dispatcher) Close() {
	if d.worker != nil {
		d.worker.Stop()
	}
	if d.closeClient && d.client != nil {
		d.client.Close()
	}
}

// Submit starts one Temporal workflow execution per task and relays its
// terminal flow.Task onto the returned channel, matching the
// actor.Dispatcher contract used by internal/actor.Run.
func (d *Dispatcher) Submit(ctx context.Context, task flow.Task, action flow.Action, bundled bundler.Context) <-chan flow.Task {
	out := make(chan flow.Task, 1)
	go func() {
		opts := client.StartWorkflowOptions{
			ID:        "flowengine-task-" + task.TaskID,
			TaskQueue: d.taskQueue,
		}
		run, err := d.client.ExecuteWorkflow(ctx, opts, TaskWorkflowName, taskWorkflowInput{
			Task:    task,
			Action:  action,
			Bundled: bundled,
		})
		if err != nil {
			out <- dispatchFailure(task, err)
			return
		}
		var result flow.Task
		if err := run.Get(ctx, &result); err != nil {
			out <- dispatchFailure(task, err)
			return
		}
		out <- result
	}()
	return out
}

// executeTaskActivity is the Temporal activity body: it delegates to the
// same internal/actor.ExecuteTask used by the in-process actor pool, so task
// semantics (timeouts, panics, status updates) are identical regardless of
// which Dispatcher is wired in.
func (d *Dispatcher) executeTaskActivity(ctx context.Context, in taskWorkflowInput) (flow.Task, error) {
	return actor.ExecuteTask(ctx, d.taskDeps, in.Task, in.Action, in.Bundled), nil
}

// taskWorkflow is the Temporal workflow function: it runs the activity with
// a start-to-close timeout slightly longer than the Task Actor's own
// handler timeout (spec.md §4.4) and a retry policy of a single attempt, so
// Temporal never re-runs a task whose activity failed.
func taskWorkflow(ctx workflow.Context, in taskWorkflowInput) (flow.Task, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityStartToClose,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result flow.Task
	err := workflow.ExecuteActivity(ctx, ExecuteTaskActivityName, in).Get(ctx, &result)
	return result, err
}

// dispatchFailure synthesizes a failed flow.Task when the workflow itself
// could not be started or observed, mirroring
// internal/engine/actorpool.Pool's permitTimeoutTask behavior for
// dispatch-layer failures that never reached the Task Actor.
func dispatchFailure(task flow.Task, err error) flow.Task {
	task.Status = flow.TaskFailed
	engErr := engineerr.Timeout("temporal_dispatch_failed", err)
	taskErr := engErr.TaskError()
	task.Error = &taskErr
	return task
}
