package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flowengine/internal/flow"
	"flowengine/internal/handlers"
)

func TestNewRegistry_WiresEveryBuiltinPlugin(t *testing.T) {
	r := handlers.NewRegistry()
	for _, name := range []string{
		flow.PluginHTTP, flow.PluginJavaScript, flow.PluginFormatter, flow.PluginFilter,
		flow.PluginWebhook, flow.PluginResponse, flow.PluginAgentToolCall, flow.PluginAgentToolCallReply,
	} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, "expected handler registered for %s", name)
	}
}

func TestRegistry_LookupUnknownPlugin(t *testing.T) {
	r := handlers.NewRegistry()
	_, ok := r.Lookup("@anything/does-not-exist")
	assert.False(t, ok)
}
