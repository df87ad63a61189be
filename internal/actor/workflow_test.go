package actor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/actor"
	"flowengine/internal/bundler"
	"flowengine/internal/flow"
)

// fakeDispatcher completes every submitted task instantly according to a
// per-action-id script, standing in for internal/engine/actorpool.Pool.
type fakeDispatcher struct {
	outcomes map[string]func(flow.Task) flow.Task
}

func (f *fakeDispatcher) Submit(ctx context.Context, task flow.Task, action flow.Action, bundled bundler.Context) <-chan flow.Task {
	ch := make(chan flow.Task, 1)
	fn, ok := f.outcomes[action.ID]
	if !ok {
		fn = func(t flow.Task) flow.Task { t.Status = flow.TaskCompleted; return t }
	}
	go func() { ch <- fn(task) }()
	return ch
}

func completedWith(result string) func(flow.Task) flow.Task {
	return func(t flow.Task) flow.Task {
		t.Status = flow.TaskCompleted
		t.Result = json.RawMessage(result)
		return t
	}
}

func failedTask(t flow.Task) flow.Task {
	t.Status = flow.TaskFailed
	t.Error = &flow.TaskError{ErrorCode: "handler_error", Message: "boom"}
	return t
}

func diamondDefinition() flow.Definition {
	return flow.Definition{
		Actions: []flow.Action{
			{ID: "trigger", Kind: flow.ActionKindTrigger, PluginName: "@anything/cron"},
			{ID: "a", Kind: flow.ActionKindAction, PluginName: flow.PluginFormatter},
			{ID: "b", Kind: flow.ActionKindAction, PluginName: flow.PluginFormatter},
			{ID: "c", Kind: flow.ActionKindAction, PluginName: flow.PluginFormatter},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "trigger", Target: "a"},
			{ID: "e2", Source: "trigger", Target: "b"},
			{ID: "e3", Source: "a", Target: "c"},
			{ID: "e4", Source: "b", Target: "c"},
		},
	}
}

func TestWorkflowRun_FanOutFanInCompletes(t *testing.T) {
	dispatcher := &fakeDispatcher{outcomes: map[string]func(flow.Task) flow.Task{
		"a": completedWith(`{}`),
		"b": completedWith(`{}`),
		"c": completedWith(`{}`),
	}}
	msg := flow.ProcessorMessage{
		FlowID: "f1", SessionID: "s1",
		FlowVersion: flow.Version{FlowVersionID: "v1", Definition: diamondDefinition()},
	}

	status, err := actor.Run(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	require.NoError(t, err)
	assert.Equal(t, flow.SessionCompleted, status)
}

func TestWorkflowRun_TaskFailureMarksSessionFailed(t *testing.T) {
	def := flow.Definition{
		Actions: []flow.Action{
			{ID: "trigger", Kind: flow.ActionKindTrigger, PluginName: "@anything/cron"},
			{ID: "http", Kind: flow.ActionKindAction, PluginName: flow.PluginHTTP},
		},
		Edges: []flow.Edge{{ID: "e1", Source: "trigger", Target: "http"}},
	}
	dispatcher := &fakeDispatcher{outcomes: map[string]func(flow.Task) flow.Task{"http": failedTask}}
	msg := flow.ProcessorMessage{
		FlowID: "f1", SessionID: "s1",
		FlowVersion: flow.Version{FlowVersionID: "v1", Definition: def},
	}

	status, err := actor.Run(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	require.NoError(t, err)
	assert.Equal(t, flow.SessionFailed, status)
}

func TestWorkflowRun_FilterShortCircuitCancelsDownstream(t *testing.T) {
	def := flow.Definition{
		Actions: []flow.Action{
			{ID: "trigger", Kind: flow.ActionKindTrigger, PluginName: "@anything/webhook"},
			{ID: "filter", Kind: flow.ActionKindFilter, PluginName: flow.PluginFilter},
			{ID: "http", Kind: flow.ActionKindAction, PluginName: flow.PluginHTTP},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "trigger", Target: "filter"},
			{ID: "e2", Source: "filter", Target: "http"},
		},
	}
	httpCalled := false
	dispatcher := &fakeDispatcher{outcomes: map[string]func(flow.Task) flow.Task{
		"filter": completedWith(`{"should_continue":false}`),
		"http": func(t flow.Task) flow.Task {
			httpCalled = true
			t.Status = flow.TaskCompleted
			return t
		},
	}}
	msg := flow.ProcessorMessage{
		FlowID: "f1", SessionID: "s1",
		FlowVersion: flow.Version{FlowVersionID: "v1", Definition: def},
	}

	status, err := actor.Run(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	require.NoError(t, err)
	assert.Equal(t, flow.SessionCompleted, status)
	assert.False(t, httpCalled, "downstream action must never be dispatched after filter short-circuit")
}

func TestWorkflowRun_InvalidDefinitionReturnsError(t *testing.T) {
	def := flow.Definition{Actions: []flow.Action{{ID: "orphan", Kind: flow.ActionKindAction}}}
	dispatcher := &fakeDispatcher{outcomes: map[string]func(flow.Task) flow.Task{}}
	msg := flow.ProcessorMessage{FlowVersion: flow.Version{Definition: def}}

	_, err := actor.Run(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	assert.Error(t, err)
}

func TestWorkflowRun_CompletesWithinReasonableTime(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	msg := flow.ProcessorMessage{
		FlowVersion: flow.Version{Definition: diamondDefinition()},
	}
	start := time.Now()
	_, err := actor.Run(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

// limitingDispatcher wraps fakeDispatcher with a RunWorkflow method, standing
// in for internal/engine/actorpool.Pool's workflow permit.
type limitingDispatcher struct {
	*fakeDispatcher
	ranUnderLimit bool
}

func (l *limitingDispatcher) RunWorkflow(ctx context.Context, fn func(ctx context.Context) error) error {
	l.ranUnderLimit = true
	return fn(ctx)
}

func TestRunWithLimiter_UsesDispatcherPermitWhenAvailable(t *testing.T) {
	dispatcher := &limitingDispatcher{fakeDispatcher: &fakeDispatcher{outcomes: map[string]func(flow.Task) flow.Task{
		"a": completedWith(`{}`), "b": completedWith(`{}`), "c": completedWith(`{}`),
	}}}
	msg := flow.ProcessorMessage{
		FlowID: "f1", SessionID: "s1",
		FlowVersion: flow.Version{FlowVersionID: "v1", Definition: diamondDefinition()},
	}

	status, err := actor.RunWithLimiter(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	require.NoError(t, err)
	assert.Equal(t, flow.SessionCompleted, status)
	assert.True(t, dispatcher.ranUnderLimit, "RunWithLimiter must route through the dispatcher's workflow permit when available")
}

func TestRunWithLimiter_FallsBackWithoutLimiter(t *testing.T) {
	dispatcher := &fakeDispatcher{outcomes: map[string]func(flow.Task) flow.Task{
		"a": completedWith(`{}`), "b": completedWith(`{}`), "c": completedWith(`{}`),
	}}
	msg := flow.ProcessorMessage{
		FlowID: "f1", SessionID: "s1",
		FlowVersion: flow.Version{FlowVersionID: "v1", Definition: diamondDefinition()},
	}

	status, err := actor.RunWithLimiter(context.Background(), actor.WorkflowDeps{Pool: dispatcher}, msg, nil)
	require.NoError(t, err)
	assert.Equal(t, flow.SessionCompleted, status)
}
