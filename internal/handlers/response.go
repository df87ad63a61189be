package handlers

import (
	"context"
	"encoding/json"
	"fmt"
)

// Replier delivers a value to a session's synchronous reply channel
// (spec.md §4.9). internal/reply.Registry satisfies this interface; it is
// expressed here as a narrow interface so this package does not import
// the reply package directly.
type Replier interface {
	Deliver(sessionID string, value any) bool
}

// ResponseHandler implements the Response plugin (spec.md §4.7): the
// terminal action for synchronous-reply workflows. It builds
// {status_code, headers, body} from its resolved inputs and hands it to
// the reply registry. Grounded on the original `http_plugin.rs` response
// construction and spec.md §4.9.
type ResponseHandler struct {
	replier Replier
}

// NewResponseHandler constructs a ResponseHandler. SetReplier must be
// called before first use in production; it is separated from the
// constructor so the handler registry can be built before the reply
// registry exists.
func NewResponseHandler() *ResponseHandler { return &ResponseHandler{} }

// SetReplier wires the reply registry this handler delivers into.
func (h *ResponseHandler) SetReplier(r Replier) { h.replier = r }

type responseInput struct {
	SessionID   string          `json:"session_id"`
	StatusCode  string          `json:"status_code"`
	ContentType string          `json:"content_type"`
	JSONBody    json.RawMessage `json:"json_body"`
	TextBody    string          `json:"text_body"`
	Headers     map[string]string `json:"headers"`
}

func (h *ResponseHandler) Handle(ctx context.Context, req Request) (any, error) {
	var in responseInput
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return nil, fmt.Errorf("response: decode input: %w", err)
	}

	statusCode := in.StatusCode
	if statusCode == "" {
		statusCode = "200"
	}

	headers := in.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	if in.ContentType != "" {
		headers["Content-Type"] = in.ContentType
	}

	var body any
	switch {
	case len(in.JSONBody) > 0:
		var decoded any
		if err := json.Unmarshal(in.JSONBody, &decoded); err != nil {
			return nil, fmt.Errorf("response: decode json_body: %w", err)
		}
		body = decoded
	case in.TextBody != "":
		body = in.TextBody
	default:
		body = nil
	}

	result := map[string]any{
		"status_code": statusCode,
		"headers":     headers,
		"body":        body,
	}

	// First-wins semantics (spec.md §9 Open Questions): a second Deliver
	// call on an already-consumed or already-timed-out registry entry is a
	// no-op, so a duplicate response handler firing is silently dropped.
	if h.replier != nil && in.SessionID != "" {
		h.replier.Deliver(in.SessionID, result)
	}

	return result, nil
}
