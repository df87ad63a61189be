package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
)

// FilterHandler implements the Filter plugin (spec.md §4.7): evaluates a
// condition against bundled_context and returns
// {"should_continue": bool}. Short-circuiting successors is the workflow
// actor's responsibility (spec.md §4.4, §8 "Filter short-circuit").
// Grounded on the original `system_plugins` filter plugin's condition
// evaluation.
type FilterHandler struct{}

// NewFilterHandler constructs a FilterHandler.
func NewFilterHandler() *FilterHandler { return &FilterHandler{} }

type filterInput struct {
	Condition string          `json:"condition"`
	Context   json.RawMessage `json:"context"`
}

func (h *FilterHandler) Handle(ctx context.Context, req Request) (any, error) {
	var in filterInput
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return nil, fmt.Errorf("filter: decode input: %w", err)
	}

	env := map[string]any{}
	if len(in.Context) > 0 {
		if err := json.Unmarshal(in.Context, &env); err != nil {
			return nil, fmt.Errorf("filter: decode context: %w", err)
		}
	}

	program, err := expr.Compile(in.Condition, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("filter: compile condition: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("filter: evaluate condition: %w", err)
	}
	shouldContinue, ok := out.(bool)
	if !ok {
		return nil, fmt.Errorf("filter: condition did not evaluate to a boolean")
	}

	return map[string]any{"should_continue": shouldContinue}, nil
}
