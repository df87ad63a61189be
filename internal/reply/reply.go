// Package reply implements the Synchronous Reply Registry (spec.md §4.9):
// a session-id-keyed map of one-shot channels that let an inbound HTTP
// request block for a workflow's response action. Grounded on the
// teacher's signal-channel pattern (runtime/agent/interrupt/controller.go),
// simplified from Temporal-signal semantics to a plain mutex-guarded map
// since the reply registry is process-local, not durable (spec.md §9
// "Global state... process-wide singletons").
package reply

import (
	"context"
	"sync"
	"time"
)

// Timeout is the fixed synchronous-reply wait (spec.md §4.9, §5, §8
// "Synchronous reply times out at exactly 60 s with a 408").
const Timeout = 60 * time.Second

// Registry is the process-wide singleton mapping session_id to a one-shot
// reply channel (spec.md §9). The zero value is not usable; construct with
// New.
type Registry struct {
	mu      sync.Mutex
	entries map[string]chan any
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]chan any)}
}

// Register creates the one-shot entry for sessionID before the caller
// enqueues the processor message, so there is no race between dispatch and
// await (spec.md §4.9 "registers a channel before enqueueing"). Registering
// the same sessionID twice replaces the prior entry; the prior waiter (if
// any) never receives a value and will time out.
func (r *Registry) Register(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = make(chan any, 1)
}

// Await blocks for up to Timeout waiting for a Deliver call on sessionID. It
// returns (value, true) on delivery, (nil, false) on timeout or context
// cancellation. The entry is consumed by the time Await returns, whichever
// path is taken (spec.md §4.9 "Entries are single-use").
func (r *Registry) Await(ctx context.Context, sessionID string) (any, bool) {
	r.mu.Lock()
	ch, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	timer := time.NewTimer(Timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		r.drop(sessionID)
		return nil, false
	case <-ctx.Done():
		r.drop(sessionID)
		return nil, false
	}
}

// Deliver sends value to the waiter registered for sessionID and removes
// the entry. It returns false if no entry exists (already consumed, timed
// out, or never registered), matching the first-wins semantics a response
// handler needs when a workflow reaches more than one terminal response
// action (spec.md §9 Open Questions).
func (r *Registry) Deliver(sessionID string, value any) bool {
	r.mu.Lock()
	ch, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- value
	return true
}

// Drop removes sessionID's entry without delivering a value, used when a
// workflow completes without ever reaching a response handler (spec.md
// §4.9 "If the workflow completes without reaching a response handler, the
// registry entry is dropped").
func (r *Registry) Drop(sessionID string) {
	r.drop(sessionID)
}

func (r *Registry) drop(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}
