// Package planner is a pure logic library implementing the Execution
// Planner (spec.md §4.6): it builds an adjacency map from workflow edges and
// computes the next-ready set of actions given what has already completed.
// Nothing here performs I/O; the Workflow Actor (internal/actor) drives this
// logic and dispatches the resulting actions.
package planner

import (
	"fmt"
	"sort"

	"flowengine/internal/flow"
)

// Graph is the adjacency-map projection of a workflow's edges, built once
// per session from the immutable Definition.
type Graph struct {
	def    flow.Definition
	order  map[string]int            // action id -> position in def.Actions (definition order)
	succ   map[string][]string       // action id -> successor action ids, in definition order
	preds  map[string][]string       // action id -> predecessor action ids
	action map[string]flow.Action    // action id -> action
}

// Build constructs a Graph from a workflow Definition, validating the DAG
// invariants named in spec.md §3: exactly one trigger action, edges form a
// DAG (no cycles), and every non-trigger action has at least one incoming
// edge. It also rejects edges referencing actions absent from the action
// list (spec.md §4.6 edge case (c)).
func Build(def flow.Definition) (*Graph, error) {
	g := &Graph{
		def:    def,
		order:  make(map[string]int, len(def.Actions)),
		succ:   make(map[string][]string),
		preds:  make(map[string][]string),
		action: make(map[string]flow.Action, len(def.Actions)),
	}

	triggerCount := 0
	for i, a := range def.Actions {
		if _, dup := g.order[a.ID]; dup {
			return nil, fmt.Errorf("planner: duplicate action id %q", a.ID)
		}
		g.order[a.ID] = i
		g.action[a.ID] = a
		if a.Kind == flow.ActionKindTrigger {
			triggerCount++
		}
	}
	if triggerCount != 1 {
		return nil, fmt.Errorf("planner: workflow must have exactly one trigger action, found %d", triggerCount)
	}

	for _, e := range def.Edges {
		if _, ok := g.action[e.Source]; !ok {
			return nil, fmt.Errorf("planner: edge references unknown source action %q", e.Source)
		}
		if _, ok := g.action[e.Target]; !ok {
			return nil, fmt.Errorf("planner: edge references unknown target action %q", e.Target)
		}
		g.succ[e.Source] = append(g.succ[e.Source], e.Target)
		g.preds[e.Target] = append(g.preds[e.Target], e.Source)
	}
	// Keep successor lists in definition order so fan-out tie-breaks are
	// deterministic (spec.md §4.6 "Tie-breaks for fan-out are by definition order").
	for id := range g.succ {
		succs := g.succ[id]
		sort.SliceStable(succs, func(i, j int) bool { return g.order[succs[i]] < g.order[succs[j]] })
	}

	for _, a := range def.Actions {
		if a.Kind != flow.ActionKindTrigger && len(g.preds[a.ID]) == 0 {
			return nil, fmt.Errorf("planner: non-trigger action %q has no incoming edge", a.ID)
		}
	}

	if cyc := findCycle(g); cyc != "" {
		return nil, fmt.Errorf("planner: cycle detected at action %q", cyc)
	}

	return g, nil
}

// findCycle runs a simple three-color DFS and returns the id of an action
// participating in a cycle, or "" if the graph is acyclic.
func findCycle(g *Graph) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.action))
	var trigger string
	for _, a := range g.def.Actions {
		if a.Kind == flow.ActionKindTrigger {
			trigger = a.ID
		}
	}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, next := range g.succ[id] {
			switch color[next] {
			case gray:
				return next
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for id := range g.action {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	_ = trigger
	return ""
}

// Actions returns the workflow's actions in definition order (trigger first
// by construction, since it is always declared first in practice; callers
// must not assume this — use Kind to find the trigger explicitly).
func (g *Graph) Actions() []flow.Action { return g.def.Actions }

// Action looks up an action by id.
func (g *Graph) Action(id string) (flow.Action, bool) {
	a, ok := g.action[id]
	return a, ok
}

// Trigger returns the workflow's single trigger action.
func (g *Graph) Trigger() flow.Action {
	for _, a := range g.def.Actions {
		if a.Kind == flow.ActionKindTrigger {
			return a
		}
	}
	return flow.Action{}
}

// Successors returns the action ids immediately downstream of id, in
// definition order.
func (g *Graph) Successors(id string) []string { return g.succ[id] }

// Predecessors returns the action ids immediately upstream of id.
func (g *Graph) Predecessors(id string) []string { return g.preds[id] }

// Ready returns the set of action identifiers whose predecessor set is a
// subset of completed and which are not already present in dispatched
// (spec.md §4.6). Results are ordered by definition order, the tie-break
// rule for fan-out.
func (g *Graph) Ready(completed, dispatched map[string]bool) []string {
	var ready []string
	for _, a := range g.def.Actions {
		if dispatched[a.ID] {
			continue
		}
		if a.Kind == flow.ActionKindTrigger {
			continue
		}
		allDone := true
		for _, p := range g.preds[a.ID] {
			if !completed[p] {
				allDone = false
				break
			}
		}
		if allDone && len(g.preds[a.ID]) > 0 {
			ready = append(ready, a.ID)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return g.order[ready[i]] < g.order[ready[j]] })
	return ready
}

// Unreachable returns ids of actions with no path from the trigger action.
// Per spec.md §9 Open Questions, the source is permissive about these; this
// helper exists so a caller may choose to warn without failing load.
func (g *Graph) Unreachable() []string {
	trigger := g.Trigger()
	if trigger.ID == "" {
		return nil
	}
	visited := map[string]bool{trigger.ID: true}
	queue := []string{trigger.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.succ[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	var unreachable []string
	for _, a := range g.def.Actions {
		if !visited[a.ID] {
			unreachable = append(unreachable, a.ID)
		}
	}
	return unreachable
}
