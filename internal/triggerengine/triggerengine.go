// Package triggerengine implements the Trigger Engine component (spec.md
// §4.1): a periodic loop that hydrates active cron triggers from the
// durable store, maintains in-memory next-fire times, and emits processor
// messages when due. Grounded on the original `trigger_engine.rs`
// hydration-merge logic and github.com/robfig/cron/v3 for expression
// parsing.
package triggerengine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"flowengine/internal/flow"
	"flowengine/internal/store"
	"flowengine/internal/telemetry"
)

// RefreshInterval is the fixed hydration/scan period (spec.md §4.1).
const RefreshInterval = 60 * time.Second

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Dispatch is called for every trigger that fires. fireScan calls it inline,
// one due trigger at a time; implementations hand msg off for a workflow run
// and return without waiting for that run (spec.md §4.1 step (1)).
type Dispatch func(ctx context.Context, msg flow.ProcessorMessage)

// Engine owns the mutable in-memory trigger table behind a reader/writer
// lock (spec.md §3 Ownership, §4.1 Concurrency).
type Engine struct {
	store    store.Store
	dispatch Dispatch
	logger   telemetry.Logger
	metrics  telemetry.Metrics

	mu       sync.RWMutex
	triggers map[string]*flow.Trigger // keyed by flow version id (spec.md §3)
}

// New constructs a Trigger Engine with an empty table; the first hydration
// happens at the top of the first RunForever iteration.
func New(st store.Store, dispatch Dispatch, logger telemetry.Logger, metrics telemetry.Metrics) *Engine {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Engine{
		store:    st,
		dispatch: dispatch,
		logger:   logger,
		metrics:  metrics,
		triggers: make(map[string]*flow.Trigger),
	}
}

// RunForever is the engine's single operation (spec.md §4.1): hydrate,
// then loop { fire-scan, sleep, re-hydrate }.
func (e *Engine) RunForever(ctx context.Context, shutdown <-chan struct{}) {
	e.hydrate(ctx)
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		e.fireScan(ctx)

		select {
		case <-shutdown:
			return
		case <-time.After(RefreshInterval):
		}

		e.hydrate(ctx)
	}
}

// fireScan acquires a read lock, collects eligible entries (cloned), then
// releases it before dispatching and taking write locks for the
// last_fired/next_fire updates (spec.md §4.1 Concurrency).
func (e *Engine) fireScan(ctx context.Context) {
	now := time.Now()

	e.mu.RLock()
	var due []*flow.Trigger
	for _, trg := range e.triggers {
		if trg.NextFire != nil && !trg.NextFire.After(now) {
			cp := *trg
			due = append(due, &cp)
		}
	}
	e.mu.RUnlock()

	for _, trg := range due {
		sessionID := uuid.NewString()
		e.dispatch(ctx, flow.ProcessorMessage{
			FlowID:           trg.FlowID,
			FlowVersion:      trg.Version,
			SessionID:        sessionID,
			TriggerSessionID: sessionID,
			Stage:            flow.StageProduction,
		})
		e.metrics.IncCounter("triggerengine.fired", 1, "flow_version_id", trg.FlowVersionID)

		next := nextFireAfter(trg.CronExpr, now)
		e.mu.Lock()
		if cur, ok := e.triggers[trg.FlowVersionID]; ok {
			cur.LastFired = &now
			cur.NextFire = next
		}
		e.mu.Unlock()
	}
}

// hydrate re-reads published trigger-bearing workflow versions from the
// durable store, preserving last_fired/next_fire for triggers whose
// version identifier is unchanged, inserting new triggers with next_fire
// computed from now, and removing triggers no longer present (spec.md
// §4.1 step (3)). Hydration failures are logged and do not clear the
// table.
func (e *Engine) hydrate(ctx context.Context) {
	versions, err := e.store.PublishedTriggerVersions(ctx)
	if err != nil {
		e.logger.Error(ctx, "trigger hydration failed", "error", err.Error())
		return
	}

	now := time.Now()
	fresh := make(map[string]*flow.Trigger, len(versions))
	for _, v := range versions {
		var triggerAction *flow.Action
		for i := range v.Definition.Actions {
			if v.Definition.Actions[i].Kind == flow.ActionKindTrigger {
				triggerAction = &v.Definition.Actions[i]
				break
			}
		}
		if triggerAction == nil || triggerAction.PluginName != "@anything/cron" {
			continue
		}
		cronExpr := cronExprFromConfig(triggerAction.PluginConfig)
		if cronExpr == "" {
			continue
		}

		fresh[v.FlowVersionID] = &flow.Trigger{
			AccountID:     v.AccountID,
			FlowID:        v.FlowID,
			FlowVersionID: v.FlowVersionID,
			ActionID:      triggerAction.ID,
			Label:         triggerAction.Label,
			PluginID:      triggerAction.PluginName,
			CronExpr:      cronExpr,
			NextFire:      nextFireAfter(cronExpr, now),
			Version:       v,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, trg := range fresh {
		if existing, ok := e.triggers[id]; ok && existing.CronExpr == trg.CronExpr {
			trg.LastFired = existing.LastFired
			trg.NextFire = existing.NextFire
		}
	}
	e.triggers = fresh
}

// nextFireAfter parses a six- or seven-field cron expression and computes
// the next fire time strictly after `after`. A parse failure leaves
// next_fire = nil and the entry dormant (spec.md §4.1 "Cron semantics").
func nextFireAfter(expr string, after time.Time) *time.Time {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil
	}
	next := sched.Next(after)
	return &next
}

func cronExprFromConfig(cfg []byte) string {
	var parsed struct {
		Cron string `json:"cron_expression"`
	}
	if err := json.Unmarshal(cfg, &parsed); err != nil {
		return ""
	}
	return parsed.Cron
}
