package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/internal/handlers"
)

func formatterInput(t *testing.T, op string, params any) json.RawMessage {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	in, err := json.Marshal(map[string]any{"operation": op, "params": json.RawMessage(p)})
	require.NoError(t, err)
	return in
}

func TestFormatterHandler_MathEvalRespectsPrecedence(t *testing.T) {
	h := handlers.NewFormatterHandler()
	out, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "math_eval", map[string]any{"expression": "2 + 3 * 4"}),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 14, out)
}

func TestFormatterHandler_MathEvalRespectsParentheses(t *testing.T) {
	h := handlers.NewFormatterHandler()
	out, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "math_eval", map[string]any{"expression": "(2 + 3) * 4"}),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 20, out)
}

func TestFormatterHandler_UnixRoundTrip(t *testing.T) {
	h := handlers.NewFormatterHandler()
	const n = int64(1_700_000_000)

	out, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "date_from_unix", map[string]any{"unix": n}),
	})
	require.NoError(t, err)
	rfc3339 := out.(string)

	back, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "date_to_unix", map[string]any{"value": rfc3339}),
	})
	require.NoError(t, err)
	assert.EqualValues(t, n, back)
}

func TestFormatterHandler_TextCapitalize(t *testing.T) {
	h := handlers.NewFormatterHandler()
	out, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "text_capitalize", map[string]any{"value": "hello"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestFormatterHandler_TextExtractEmails(t *testing.T) {
	h := handlers.NewFormatterHandler()
	out, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "text_extract_emails", map[string]any{"value": "contact ada@example.com or grace@example.org"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com", "grace@example.org"}, out)
}

func TestFormatterHandler_TextTruncateWithEllipsis(t *testing.T) {
	h := handlers.NewFormatterHandler()
	out, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "text_truncate", map[string]any{"value": "hello world", "max_length": 8}),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello...", out)
}

func TestFormatterHandler_RandomNumberInRange(t *testing.T) {
	h := handlers.NewFormatterHandler()
	for i := 0; i < 20; i++ {
		out, err := h.Handle(context.Background(), handlers.Request{
			Input: formatterInput(t, "random_number", map[string]any{"min": 5, "max": 10}),
		})
		require.NoError(t, err)
		n := out.(int64)
		assert.GreaterOrEqual(t, n, int64(5))
		assert.LessOrEqual(t, n, int64(10))
	}
}

func TestFormatterHandler_UnknownOperationErrors(t *testing.T) {
	h := handlers.NewFormatterHandler()
	_, err := h.Handle(context.Background(), handlers.Request{
		Input: formatterInput(t, "not_a_real_op", map[string]any{}),
	})
	assert.Error(t, err)
}
