package handlers

import (
	"context"
	"encoding/json"
	"fmt"
)

// AgentToolCallHandler implements the agent tool-call trigger pseudo-handler
// (spec.md §4.7): same shape as the webhook trigger, but input parsing also
// extracts a nested tool-call identifier and its arguments.
type AgentToolCallHandler struct{}

// NewAgentToolCallHandler constructs an AgentToolCallHandler.
func NewAgentToolCallHandler() *AgentToolCallHandler { return &AgentToolCallHandler{} }

type agentToolCallCapture struct {
	AgentID    string          `json:"agent_id"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments"`
}

func (h *AgentToolCallHandler) Handle(ctx context.Context, req Request) (any, error) {
	var capture agentToolCallCapture
	if err := json.Unmarshal(req.Input, &capture); err != nil {
		return nil, fmt.Errorf("agent_tool_call: decode captured request: %w", err)
	}
	var args any
	if len(capture.Arguments) > 0 {
		if err := json.Unmarshal(capture.Arguments, &args); err != nil {
			args = string(capture.Arguments)
		}
	}
	return map[string]any{
		"agent_id":     capture.AgentID,
		"tool_call_id": capture.ToolCallID,
		"tool_name":    capture.ToolName,
		"arguments":    args,
	}, nil
}

// AgentToolCallReplyHandler implements the agent tool-call response plugin
// (spec.md §4.7): serializes a response into the calling agent's expected
// tool-result envelope and delivers it through the reply registry, the
// same mechanism as ResponseHandler.
type AgentToolCallReplyHandler struct {
	replier Replier
}

// NewAgentToolCallReplyHandler constructs an AgentToolCallReplyHandler.
func NewAgentToolCallReplyHandler() *AgentToolCallReplyHandler {
	return &AgentToolCallReplyHandler{}
}

// SetReplier wires the reply registry this handler delivers into.
func (h *AgentToolCallReplyHandler) SetReplier(r Replier) { h.replier = r }

type agentToolCallReplyInput struct {
	SessionID  string          `json:"session_id"`
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result"`
	IsError    bool            `json:"is_error"`
}

func (h *AgentToolCallReplyHandler) Handle(ctx context.Context, req Request) (any, error) {
	var in agentToolCallReplyInput
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return nil, fmt.Errorf("agent_tool_call_response: decode input: %w", err)
	}

	var result any
	if len(in.Result) > 0 {
		if err := json.Unmarshal(in.Result, &result); err != nil {
			result = string(in.Result)
		}
	}

	envelope := map[string]any{
		"tool_call_id": in.ToolCallID,
		"content":      result,
		"is_error":     in.IsError,
	}

	if h.replier != nil && in.SessionID != "" {
		h.replier.Deliver(in.SessionID, envelope)
	}

	return envelope, nil
}
