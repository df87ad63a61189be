package mongo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"flowengine/internal/flow"
	"flowengine/internal/store"
	storemongo "flowengine/internal/store/mongo"
)

// Grounded on the teacher's registry/store/mongo/mongo_test.go: a real
// mongo:7 container via testcontainers-go, skipped (not failed) when Docker
// is unavailable, so this suite runs in CI with Docker and degrades
// gracefully in sandboxes without it.
var (
	testClient     *mongo.Client
	testContainer  testcontainers.Container
	skipMongoTests bool
)

func setupMongo(t *testing.T) *storemongo.Store {
	t.Helper()
	if testClient == nil && !skipMongoTests {
		startMongoContainer()
	}
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB integration test")
	}
	db := testClient.Database("flowengine_test")
	require.NoError(t, db.Drop(context.Background()))
	return storemongo.New(db)
}

func startMongoContainer() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
	}
}

func TestMongoStore_InsertThenUpdateTask(t *testing.T) {
	st := setupMongo(t)
	ctx := context.Background()

	task := flow.Task{
		TaskID:   "t1",
		ActionID: "a1",
		Status:   flow.TaskRunning,
	}
	require.NoError(t, st.InsertTask(ctx, task))

	ended := int64(1700000000000000000)
	err := st.UpdateTask(ctx, "t1", store.TaskPatch{
		Status:  flow.TaskCompleted,
		Result:  []byte(`{"ok":true}`),
		EndedAt: &ended,
	})
	require.NoError(t, err)

	err = st.UpdateTask(ctx, "does-not-exist", store.TaskPatch{Status: flow.TaskFailed})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMongoStore_FlowVersionNotFound(t *testing.T) {
	st := setupMongo(t)

	_, err := st.FlowVersion(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestMongoStore_PublishedTriggerVersionsPropertyRoundTrip verifies that
// every published cron-triggered version inserted directly into the
// flow_versions collection is returned by PublishedTriggerVersions,
// regardless of how many non-cron or unpublished versions are interleaved
// with it — a property gopter is well suited to, since the interesting
// input is the shape of the whole mixed collection, not one row at a time.
func TestMongoStore_PublishedTriggerVersionsPropertyRoundTrip(t *testing.T) {
	st := setupMongo(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("published cron versions round-trip through Mongo", prop.ForAll(
		func(cronCount, unpublishedCronCount, webhookCount int) bool {
			db := testClient.Database("flowengine_test")
			if err := db.Drop(ctx); err != nil {
				return false
			}

			for i := 0; i < cronCount; i++ {
				if err := insertVersion(ctx, db, cronVersion(fmt.Sprintf("cron-%d", i), true)); err != nil {
					return false
				}
			}
			for i := 0; i < unpublishedCronCount; i++ {
				if err := insertVersion(ctx, db, cronVersion(fmt.Sprintf("unpub-cron-%d", i), false)); err != nil {
					return false
				}
			}
			for i := 0; i < webhookCount; i++ {
				v := cronVersion(fmt.Sprintf("webhook-%d", i), true)
				v.Definition.Actions[0].PluginName = "@anything/webhook"
				if err := insertVersion(ctx, db, v); err != nil {
					return false
				}
			}

			got, err := st.PublishedTriggerVersions(ctx)
			return err == nil && len(got) == cronCount
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

func cronVersion(id string, published bool) flow.Version {
	return flow.Version{
		FlowVersionID: id,
		FlowID:        "flow-" + id,
		Published:     published,
		Definition: flow.Definition{
			Actions: []flow.Action{{ID: "trigger", Kind: flow.ActionKindTrigger, PluginName: "@anything/cron"}},
		},
	}
}

// insertVersion writes directly to the flow_versions collection in the
// shape storemongo.Store expects, since store.Store has no Put operation
// of its own (versions are assumed to be written by an external control
// plane, per spec.md §6).
func insertVersion(ctx context.Context, db *mongo.Database, v flow.Version) error {
	doc := map[string]any{
		"flow_version_id": v.FlowVersionID,
		"flow_id":         v.FlowID,
		"account_id":      v.AccountID,
		"published":       v.Published,
		"flow_definition": v.Definition,
	}
	_, err := db.Collection("flow_versions").InsertOne(ctx, doc)
	return err
}
