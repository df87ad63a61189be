package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/actor"
	"flowengine/internal/flow"
	"flowengine/internal/handlers"
)

func actorDepsFixture() actor.TaskDeps {
	return actor.TaskDeps{Handlers: handlers.NewRegistry()}
}

func TestDispatchFailure_MarksTaskFailedWithTaskError(t *testing.T) {
	task := flow.Task{TaskID: "t1", Status: flow.TaskPending}

	failed := dispatchFailure(task, assert.AnError)

	assert.Equal(t, flow.TaskFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.NotEmpty(t, failed.Error.Message)
}

func TestNew_RequiresTaskQueue(t *testing.T) {
	_, err := New(Config{HostPort: "localhost:7233", Namespace: "default"}, actorDepsFixture(), nil, nil, nil)
	assert.Error(t, err)
}
