package hooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"flowengine/internal/flow"
)

// PulseClient is the subset of goa.design/pulse's streaming API needed to
// fan out change-notifications across engine replicas (SPEC_FULL.md "Redis
// + pulse"). Modeled on the teacher's features/stream/pulse client wrapper.
type PulseClient interface {
	Stream(name string, opts ...streamopts.Stream) (PulseStream, error)
	Close(ctx context.Context) error
}

// PulseStream publishes entries to a single Pulse stream.
type PulseStream interface {
	Add(ctx context.Context, eventName string, payload []byte) (string, error)
}

type redisPulseClient struct {
	client *streaming.Client
}

// NewPulseClient opens a Pulse streaming client backed by the given Redis
// connection. Multiple engine replicas sharing the same Redis instance will
// all observe the same published events, satisfying spec.md §4.2's note
// that the websocket layer (out of scope) pushes UI updates from status
// writes even when served by a different process than the one that wrote.
func NewPulseClient(ctx context.Context, rdb *redis.Client) (PulseClient, error) {
	c, err := streaming.NewClient(ctx, rdb)
	if err != nil {
		return nil, fmt.Errorf("hooks: open pulse client: %w", err)
	}
	return &redisPulseClient{client: c}, nil
}

func (c *redisPulseClient) Stream(name string, opts ...streamopts.Stream) (PulseStream, error) {
	s, err := c.client.NewStream(name, opts...)
	if err != nil {
		return nil, err
	}
	return pulseStreamAdapter{stream: s}, nil
}

func (c *redisPulseClient) Close(ctx context.Context) error { return nil }

type pulseStreamAdapter struct {
	stream *streaming.Stream
}

func (s pulseStreamAdapter) Add(ctx context.Context, eventName string, payload []byte) (string, error) {
	return s.stream.Add(ctx, eventName, payload)
}

// pulseBus publishes every locally-handled Event to a shared Pulse stream so
// subscribers in other processes (a websocket-facing gateway, a billing
// collector, SPEC_FULL.md supplemented feature 6) observe it too. It wraps
// an in-memory Bus for same-process subscribers and never fails the
// Status Updater on the stream write failing: Publish discards that error
// without logging it.
type pulseBus struct {
	local  Bus
	stream PulseStream
}

const changeStreamName = "flowengine.status_updates"

// NewPulseBus constructs a Bus that fans events out both in-process and
// across replicas via the given Pulse stream.
func NewPulseBus(stream PulseStream) Bus {
	return &pulseBus{local: NewBus(), stream: stream}
}

func (b *pulseBus) Publish(ctx context.Context, event Event) error {
	if err := b.local.Publish(ctx, event); err != nil {
		return err
	}
	payload, err := json.Marshal(wireEvent{
		Type:          string(event.Type),
		SessionID:     event.SessionID,
		TaskID:        event.TaskID,
		Task:          event.Task,
		FlowStatus:    event.FlowStatus,
		TriggerStatus: event.TriggerStatus,
	})
	if err != nil {
		return nil // best-effort: a serialization failure here must not abort the run
	}
	_, _ = b.stream.Add(ctx, string(event.Type), payload)
	return nil
}

func (b *pulseBus) Register(sub Subscriber) (Subscription, error) { return b.local.Register(sub) }

type wireEvent struct {
	Type          string
	SessionID     string
	TaskID        string
	Task          *flow.Task
	FlowStatus    flow.SessionStatus
	TriggerStatus flow.SessionStatus
}
