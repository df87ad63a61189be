package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/handlers"
)

func TestWebhookHandler_ReturnsCapturedRequest(t *testing.T) {
	h := handlers.NewWebhookHandler()
	input, _ := json.Marshal(handlers.WebhookCapture{
		Method:  "POST",
		Path:    "/workflow/w1/start/respond",
		Headers: map[string]any{"X-Test": "1"},
		Query:   map[string]any{"q": "1"},
		Body:    json.RawMessage(`{"name":"ada"}`),
	})

	out, err := h.Handle(context.Background(), handlers.Request{Input: input})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "POST", m["method"])
	assert.Equal(t, "/workflow/w1/start/respond", m["path"])
	assert.Equal(t, map[string]any{"name": "ada"}, m["body"])
}
