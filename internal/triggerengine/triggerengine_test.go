package triggerengine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/actor"
	"flowengine/internal/engine/actorpool"
	"flowengine/internal/flow"
	"flowengine/internal/handlers"
	"flowengine/internal/hooks"
	"flowengine/internal/statusupdater"
	"flowengine/internal/store/inmem"
	"flowengine/internal/triggerengine"
)

func cronVersion(id, cron string) flow.Version {
	return flow.Version{
		FlowVersionID: id,
		FlowID:        "flow-" + id,
		Published:     true,
		Definition: flow.Definition{
			Actions: []flow.Action{{
				ID:           "trigger",
				Kind:         flow.ActionKindTrigger,
				PluginName:   "@anything/cron",
				PluginConfig: []byte(`{"cron_expression":"` + cron + `"}`),
			}},
		},
	}
}

func TestEngine_FiresDueTrigger(t *testing.T) {
	st := inmem.New()
	st.PutVersion(cronVersion("v1", "* * * * * *")) // every second

	var mu sync.Mutex
	var fired []flow.ProcessorMessage
	eng := triggerengine.New(st, func(_ context.Context, msg flow.ProcessorMessage) {
		mu.Lock()
		fired = append(fired, msg)
		mu.Unlock()
	}, nil, nil)

	shutdown := make(chan struct{})
	go eng.RunForever(context.Background(), shutdown)
	defer close(shutdown)

	// The first scan runs before the trigger's first tick, so the fire comes
	// from the scan that follows one RefreshInterval of sleep.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) > 0
	}, triggerengine.RefreshInterval+5*time.Second, 50*time.Millisecond)
}

// TestEngine_FiredTriggerRunsWorkflowToCompletion exercises spec.md §8
// end-to-end scenario 1 (cron fires, the workflow runs to completion): a
// cron-fired message must carry the fetched FlowVersion, the same way
// internal/httpapi/server.go's trigger paths do, or the planner rejects the
// zero-value definition it would otherwise receive.
func TestEngine_FiredTriggerRunsWorkflowToCompletion(t *testing.T) {
	st := inmem.New()
	def := flow.Definition{
		Actions: []flow.Action{
			{
				ID: "trigger", Kind: flow.ActionKindTrigger, PluginName: "@anything/cron",
				PluginConfig: []byte(`{"cron_expression":"* * * * * *"}`),
			},
			{
				ID: "check", Kind: flow.ActionKindFilter, PluginName: flow.PluginFilter,
				Input: json.RawMessage(`{"condition":"true"}`),
			},
		},
		Edges: []flow.Edge{{ID: "e1", Source: "trigger", Target: "check"}},
	}
	st.PutVersion(flow.Version{
		FlowVersionID: "v1", FlowID: "w1", Published: true, Definition: def,
	})

	updater := statusupdater.New(st, hooks.NewBus(), nil, nil, nil)
	shutdown := make(chan struct{})
	go updater.Run(context.Background(), shutdown)
	defer close(shutdown)

	registry := handlers.NewRegistry()
	registry.Register(flow.PluginFilter, handlers.NewFilterHandler())
	pool := actorpool.New(actorpool.Config{WorkflowConcurrency: 4, TaskConcurrency: 4}, actor.TaskDeps{
		Handlers: registry,
		Updater:  updater,
	}, nil, nil)

	var mu sync.Mutex
	var statuses []flow.SessionStatus
	var sessionIDs []string
	var runErrs []error
	eng := triggerengine.New(st, func(ctx context.Context, msg flow.ProcessorMessage) {
		st.PutSession(flow.Session{SessionID: msg.SessionID, FlowID: msg.FlowID, FlowVersionID: msg.FlowVersion.FlowVersionID})
		deps := actor.WorkflowDeps{Updater: updater, Pool: pool}
		status, err := actor.RunWithLimiter(ctx, deps, msg, nil)
		mu.Lock()
		statuses = append(statuses, status)
		sessionIDs = append(sessionIDs, msg.SessionID)
		runErrs = append(runErrs, err)
		mu.Unlock()
	}, nil, nil)

	triggerShutdown := make(chan struct{})
	go eng.RunForever(context.Background(), triggerShutdown)
	defer close(triggerShutdown)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) > 0
	}, triggerengine.RefreshInterval+5*time.Second, 50*time.Millisecond)

	mu.Lock()
	status, sessionID, runErr := statuses[0], sessionIDs[0], runErrs[0]
	mu.Unlock()
	require.NoError(t, runErr)
	assert.Equal(t, flow.SessionCompleted, status)

	require.Eventually(t, func() bool {
		tasks := st.TasksForSession(sessionID)
		if len(tasks) != 2 {
			return false
		}
		for _, tk := range tasks {
			if tk.Status != flow.TaskCompleted {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond, "both the trigger and filter tasks must reach completed")
}

func TestEngine_InvalidCronStaysDormant(t *testing.T) {
	st := inmem.New()
	st.PutVersion(cronVersion("v2", "not a cron expression"))

	fired := 0
	eng := triggerengine.New(st, func(_ context.Context, _ flow.ProcessorMessage) { fired++ }, nil, nil)

	shutdown := make(chan struct{})
	go eng.RunForever(context.Background(), shutdown)
	time.Sleep(200 * time.Millisecond)
	close(shutdown)

	assert.Equal(t, 0, fired)
}
