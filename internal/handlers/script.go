package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
)

// ScriptHandler implements the Scripted Transform plugin (spec.md §4.7):
// user-supplied script code executed against bundled_context in a
// sandboxed runtime. Grounded on the original `system_plugins`
// script-execution plugin; sandboxed via expr-lang/expr, which compiles
// to a restricted bytecode VM with no filesystem, network, or reflection
// access, matching the "sandboxed runtime" requirement without shelling
// out to a real scripting language.
type ScriptHandler struct{}

// NewScriptHandler constructs a ScriptHandler.
func NewScriptHandler() *ScriptHandler { return &ScriptHandler{} }

func (h *ScriptHandler) Handle(ctx context.Context, req Request) (any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(req.Input, &raw); err != nil {
		return nil, fmt.Errorf("script: decode input: %w", err)
	}
	codeRaw, ok := raw["code"]
	if !ok {
		return nil, fmt.Errorf("script: missing %q field", "code")
	}
	var code string
	if err := json.Unmarshal(codeRaw, &code); err != nil {
		return nil, fmt.Errorf("script: code must be a string: %w", err)
	}

	var bundled map[string]any
	if len(req.Input) > 0 {
		var full map[string]any
		if err := json.Unmarshal(req.Input, &full); err == nil {
			if ctxVal, ok := full["context"]; ok {
				if m, ok := ctxVal.(map[string]any); ok {
					bundled = m
				}
			}
		}
	}
	if bundled == nil {
		bundled = map[string]any{}
	}

	program, err := expr.Compile(code, expr.Env(bundled), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("script: compile: %w", err)
	}
	out, err := expr.Run(program, bundled)
	if err != nil {
		return nil, fmt.Errorf("script: run: %w", err)
	}
	return out, nil
}
