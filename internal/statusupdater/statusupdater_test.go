package statusupdater_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/flow"
	"flowengine/internal/hooks"
	"flowengine/internal/store/inmem"
	"flowengine/internal/statusupdater"
)

func TestUpdater_CreateThenUpdateTask(t *testing.T) {
	st := inmem.New()
	bus := hooks.NewBus()

	var seen []hooks.Event
	_, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		seen = append(seen, e)
		return nil
	}))
	require.NoError(t, err)

	u := statusupdater.New(st, bus, nil, nil, nil)
	shutdown := make(chan struct{})
	go u.Run(context.Background(), shutdown)
	defer close(shutdown)

	task := flow.Task{TaskID: "t1", FlowSessionID: "s1", Status: flow.TaskPending}
	u.Send(context.Background(), statusupdater.Message{Op: statusupdater.Operation{CreateTask: &task}})

	require.Eventually(t, func() bool {
		_, ok := st.Task("t1")
		return ok
	}, time.Second, time.Millisecond)

	now := time.Now()
	u.Send(context.Background(), statusupdater.Message{Op: statusupdater.Operation{UpdateTask: &statusupdater.UpdateTaskOp{
		TaskID: "t1", Status: flow.TaskCompleted, StartedAt: &now, EndedAt: &now,
	}}})

	require.Eventually(t, func() bool {
		tk, _ := st.Task("t1")
		return tk.Status == flow.TaskCompleted
	}, time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, len(seen), 2)
}
