// Package handlers implements the Action Handlers component (spec.md
// §4.7): one Handler per plugin name, registered by name and invoked by
// the task actor with the task's rendered bundled_context. Grounded on the
// teacher's tools.ToolSpec registry-by-name pattern
// (runtime/agent/tools/tools.go) and the original `system_plugins/*` and
// `system_actions/formatter_action.rs` sources.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"flowengine/internal/flow"
)

// Request is the resolved, template-rendered input handed to a handler:
// the task's own declared input plus its plugin configuration, both
// already rendered against the bundled context (spec.md §4.7, §4.8).
type Request struct {
	Input        json.RawMessage
	PluginConfig json.RawMessage
}

// Handler implements one plugin's `execute(bundled_context) ->
// Result<value, error>` (spec.md §4.7). The returned value is marshaled
// as the task's result.
type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (any, error) { return f(ctx, req) }

// Registry maps plugin names to their Handler (spec.md §9 "Dynamic plugin
// dispatch": a tagged enumeration over the built-in set with an open
// extension point). The enumeration is closed for the core; registering an
// externally hosted plugin under its own name is the extension point.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the registry with every built-in handler wired in.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register(flow.PluginHTTP, NewHTTPHandler(nil))
	r.Register(flow.PluginJavaScript, NewScriptHandler())
	r.Register(flow.PluginFormatter, NewFormatterHandler())
	r.Register(flow.PluginFilter, NewFilterHandler())
	r.Register(flow.PluginWebhook, NewWebhookHandler())
	r.Register(flow.PluginResponse, NewResponseHandler())
	r.Register(flow.PluginAgentToolCall, NewAgentToolCallHandler())
	r.Register(flow.PluginAgentToolCallReply, NewAgentToolCallReplyHandler())
	return r
}

// Register installs or replaces the handler bound to pluginName.
func (r *Registry) Register(pluginName string, h Handler) {
	r.handlers[pluginName] = h
}

// Lookup returns the handler bound to pluginName, or false if none is
// registered (spec.md §7 "Validation... unknown plugin").
func (r *Registry) Lookup(pluginName string) (Handler, bool) {
	h, ok := r.handlers[pluginName]
	return h, ok
}

// ErrUnknownPlugin is returned by the task actor when a task names a
// plugin with no registered handler.
type ErrUnknownPlugin struct{ PluginName string }

func (e ErrUnknownPlugin) Error() string {
	return fmt.Sprintf("handlers: unknown plugin %q", e.PluginName)
}
