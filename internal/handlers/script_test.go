package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/handlers"
)

func TestScriptHandler_EvaluatesAgainstContext(t *testing.T) {
	h := handlers.NewScriptHandler()
	input, _ := json.Marshal(map[string]any{
		"code":    "webhook.body.count * 2",
		"context": json.RawMessage(`{"webhook":{"body":{"count":21}}}`),
	})
	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestScriptHandler_MissingCodeErrors(t *testing.T) {
	h := handlers.NewScriptHandler()
	input, _ := json.Marshal(map[string]any{"context": json.RawMessage(`{}`)})
	_, err := h.Handle(context.Background(), handlers.Request{Input: input})
	assert.Error(t, err)
}
