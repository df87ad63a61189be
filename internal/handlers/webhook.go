package handlers

import (
	"context"
	"encoding/json"
	"fmt"
)

// WebhookHandler implements the webhook-trigger pseudo-handler (spec.md
// §4.7): it does no work of its own, it simply returns the inbound
// request capture (method, path, headers, query, body) that the HTTP
// server attached to the task's input before the workflow was dispatched
// (SPEC_FULL.md supplemented feature 4, grounded on the original
// `http_plugin.rs` webhook-trigger request capture).
type WebhookHandler struct{}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler() *WebhookHandler { return &WebhookHandler{} }

// WebhookCapture is the shape a webhook trigger's input carries
// (spec.md §4.7 "Webhook trigger & Response").
type WebhookCapture struct {
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Headers map[string]any  `json:"headers"`
	Query   map[string]any  `json:"query"`
	Body    json.RawMessage `json:"body"`
}

func (h *WebhookHandler) Handle(ctx context.Context, req Request) (any, error) {
	var capture WebhookCapture
	if err := json.Unmarshal(req.Input, &capture); err != nil {
		return nil, fmt.Errorf("webhook: decode captured request: %w", err)
	}
	var body any
	if len(capture.Body) > 0 {
		if err := json.Unmarshal(capture.Body, &body); err != nil {
			body = string(capture.Body)
		}
	}
	return map[string]any{
		"method":  capture.Method,
		"path":    capture.Path,
		"headers": capture.Headers,
		"query":   capture.Query,
		"body":    body,
	}, nil
}
