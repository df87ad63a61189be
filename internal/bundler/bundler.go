// Package bundler implements the Context Bundler & Template Renderer
// (spec.md §4.8): it assembles a bundled_context mapping completed tasks to
// their results, then renders every string in a task's declared inputs as a
// `{{ path }}` template against that context. Grounded on the teacher's
// text/template usage (runtime/agent/runtime/hints) and the original
// `anything-engine/src/context.rs` merge semantics.
package bundler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Context is the bundled_context: a mapping from a completed task's action
// identifier to that task's result value (spec.md §4.8).
type Context map[string]any

// Bundle builds a Context from completed tasks, keyed by action id. results
// maps action id -> raw JSON result bytes (nil for tasks with no result).
func Bundle(results map[string]json.RawMessage) (Context, error) {
	ctx := make(Context, len(results))
	for actionID, raw := range results {
		if len(raw) == 0 {
			ctx[actionID] = nil
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("bundler: decode result for %q: %w", actionID, err)
		}
		ctx[actionID] = v
	}
	return ctx, nil
}

var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render recursively walks a declared `inputs` value and replaces every
// `{{ path }}` expression in every string with the value looked up at path
// in the bundled context. Non-string inputs pass through unchanged except
// for nested objects/arrays, which are rendered recursively (spec.md
// §4.8). Rendering a template against an empty context returns the
// template unchanged for any path that fails to resolve (spec.md §8
// round-trip: "Rendering a template with an empty bundled context returns
// the template unchanged").
func Render(input any, ctx Context) (any, error) {
	switch v := input.(type) {
	case string:
		return renderString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderJSON is a convenience wrapper around Render for json.RawMessage
// inputs (the wire shape of Action.Input / Task.Config.Input).
func RenderJSON(raw json.RawMessage, ctx Context) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("bundler: decode input: %w", err)
	}
	rendered, err := Render(v, ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("bundler: encode rendered input: %w", err)
	}
	return out, nil
}

// renderString replaces every {{ path }} expression found in s. If the
// entire string is a single expression, the looked-up value's native type
// is preserved (so `{{ http.body.count }}` can render a number, not the
// string "3"); otherwise expressions are interpolated as their string
// representation, matching common workflow-template conventions.
func renderString(s string, ctx Context) (any, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		val, ok := lookup(path, ctx)
		if !ok {
			return s, nil
		}
		return val, nil
	}

	var buf bytes.Buffer
	last := 0
	for _, m := range matches {
		buf.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		val, ok := lookup(path, ctx)
		if !ok {
			buf.WriteString(s[m[0]:m[1]])
		} else {
			buf.WriteString(stringify(val))
		}
		last = m[1]
	}
	buf.WriteString(s[last:])
	return buf.String(), nil
}

// lookup resolves a dotted path (e.g. "webhook.body.name") against the
// bundled context.
func lookup(path string, ctx Context) (any, bool) {
	segments := strings.Split(strings.TrimSpace(path), ".")
	if len(segments) == 0 {
		return nil, false
	}
	cur, ok := ctx[segments[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// This reference to text/template documents why it (not html/template) is
// imported: inputs render into JSON/HTTP payloads, not HTML documents, so
// HTML auto-escaping would corrupt values.
var _ = template.New
