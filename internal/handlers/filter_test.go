package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/handlers"
)

func TestFilterHandler_ShouldContinueTrue(t *testing.T) {
	h := handlers.NewFilterHandler()
	input, _ := json.Marshal(map[string]any{
		"condition": "webhook.body.name == \"ada\"",
		"context":   json.RawMessage(`{"webhook":{"body":{"name":"ada"}}}`),
	})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"should_continue": true}, out)
}

func TestFilterHandler_ShouldContinueFalse(t *testing.T) {
	h := handlers.NewFilterHandler()
	input, _ := json.Marshal(map[string]any{
		"condition": "webhook.body.name == \"grace\"",
		"context":   json.RawMessage(`{"webhook":{"body":{"name":"ada"}}}`),
	})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"should_continue": false}, out)
}

func TestFilterHandler_NonBooleanConditionErrors(t *testing.T) {
	h := handlers.NewFilterHandler()
	input, _ := json.Marshal(map[string]any{"condition": "1 + 1", "context": json.RawMessage(`{}`)})
	_, err := h.Handle(context.Background(), handlers.Request{Input: input})
	assert.Error(t, err)
}
