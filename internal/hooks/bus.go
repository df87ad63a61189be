// Package hooks implements the change-notification fan-out used by the
// Status Updater (spec.md §4.2 "emits... a change-notification (used by the
// websocket layer to push UI updates)") and the billing-usage integration
// seam (SPEC_FULL.md supplemented feature 6). Adapted from the teacher's
// runtime/agent/hooks bus: a synchronous, in-memory, fail-fast fan-out.
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes status-update events to registered subscribers in a
	// fan-out pattern. The bus is thread-safe and supports concurrent
	// Publish, Register, and Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error. Because the Status
	// Updater treats publish failures as best-effort (spec.md §4.2, §7
	// "Status-updater failures never propagate to the workflow actor"),
	// callers should not let Publish errors abort a run.
	Bus interface {
		// Publish delivers the event to every currently registered subscriber.
		Publish(ctx context.Context, event Event) error
		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent calls the wrapped function.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a new in-memory event bus, ready for immediate use.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
