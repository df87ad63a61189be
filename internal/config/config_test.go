package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/config"
)

func TestFromEnv_AppliesDefaults(t *testing.T) {
	t.Setenv("SUPABASE_SERVICE_ROLE_API_KEY", "")
	t.Setenv("FLOWENGINE_HTTP_ADDR", "")
	t.Setenv("FLOWENGINE_WORKFLOW_CONCURRENCY", "")
	t.Setenv("FLOWENGINE_TASK_CONCURRENCY", "")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "flowengine", cfg.MongoDatabase)
	assert.Positive(t, cfg.ActorPool.TaskConcurrency)
}

func TestFromEnv_OverridesConcurrency(t *testing.T) {
	t.Setenv("FLOWENGINE_WORKFLOW_CONCURRENCY", "7")
	t.Setenv("FLOWENGINE_TASK_CONCURRENCY", "9")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.EqualValues(t, 7, cfg.ActorPool.WorkflowConcurrency)
	assert.EqualValues(t, 9, cfg.ActorPool.TaskConcurrency)
}

func TestFromEnv_InvalidConcurrencyErrors(t *testing.T) {
	t.Setenv("FLOWENGINE_TASK_CONCURRENCY", "not-a-number")
	_, err := config.FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_LoadsYAMLFileThenAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/flowengine.yaml"
	require.NoError(t, os.WriteFile(path, []byte(""+
		"mongo_uri: mongodb://file-configured:27017\n"+
		"http_addr: \":9090\"\n"+
		"actor_pool:\n"+
		"  workflow_concurrency: 5\n"+
		"  task_concurrency: 10\n",
	), 0o600))

	t.Setenv("FLOWENGINE_CONFIG_FILE", path)
	t.Setenv("FLOWENGINE_HTTP_ADDR", ":7070")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "mongodb://file-configured:27017", cfg.MongoURI)
	assert.Equal(t, ":7070", cfg.HTTPAddr, "env var must override the file's value")
	assert.EqualValues(t, 5, cfg.ActorPool.WorkflowConcurrency)
	assert.EqualValues(t, 10, cfg.ActorPool.TaskConcurrency)
}

func TestFromEnv_MissingConfigFileErrors(t *testing.T) {
	t.Setenv("FLOWENGINE_CONFIG_FILE", "/nonexistent/flowengine.yaml")
	_, err := config.FromEnv()
	assert.Error(t, err)
}
