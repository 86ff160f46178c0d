package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbill/medbill/internal/platform/metrics"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID).
		Str("type", evt.Type).
		Str("resource_type", evt.ResourceType).
		Str("resource_id", evt.ResourceID).
		RawJSON("payload", orEmpty(evt.Payload)).
		Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

func orEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

// MemoryPublisher keeps events in memory. Tests use it to assert on emitted events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType returns the published events with the given type.
func (p *MemoryPublisher) OfType(eventType string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Emitter is what services hold. Emit never fails the caller: delivery
// errors are logged and counted.
//
// A synchronous emitter publishes on the caller's goroutine. An async one
// queues into a bounded buffer drained by a single worker, so a slow broker
// never holds up a request; events that find the buffer full are dropped
// and counted with result=dropped.
type Emitter struct {
	pub     Publisher
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	queue  chan Event
	closed bool
	done   chan struct{}
}

func NewEmitter(pub Publisher, logger zerolog.Logger, m *metrics.Collector) *Emitter {
	return &Emitter{pub: pub, logger: logger, metrics: m}
}

// NewAsyncEmitter starts the delivery worker. Close drains it.
func NewAsyncEmitter(pub Publisher, logger zerolog.Logger, m *metrics.Collector, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 1
	}
	e := &Emitter{
		pub:     pub,
		logger:  logger,
		metrics: m,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// NopEmitter discards events.
func NopEmitter() *Emitter {
	return &Emitter{logger: zerolog.Nop()}
}

func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if e == nil || e.pub == nil {
		return
	}
	if e.queue == nil {
		e.publish(ctx, evt)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(evt, "emitter closed")
		return
	}
	select {
	case e.queue <- evt:
	default:
		e.drop(evt, "event buffer full")
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to end. It is a no-op on a synchronous emitter.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil || e.queue == nil {
		return nil
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for evt := range e.queue {
		e.publish(context.Background(), evt)
	}
}

func (e *Emitter) publish(ctx context.Context, evt Event) {
	result := "ok"
	if err := e.pub.Publish(ctx, evt); err != nil {
		result = "error"
		e.logger.Warn().Err(err).
			Str("event_id", evt.ID).
			Str("type", evt.Type).
			Msg("publish event failed")
	}
	e.count(evt.Type, result)
}

func (e *Emitter) drop(evt Event, reason string) {
	e.logger.Warn().
		Str("event_id", evt.ID).
		Str("type", evt.Type).
		Msg(reason)
	e.count(evt.Type, "dropped")
}

func (e *Emitter) count(eventType, result string) {
	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(eventType, result).Inc()
	}
}

// EmitNew builds and emits an event in one step.
func (e *Emitter) EmitNew(ctx context.Context, eventType, resourceType string, resourceID, userID uuid.UUID, payload interface{}) {
	if e == nil || e.pub == nil {
		return
	}
	evt, err := New(eventType, resourceType, resourceID, userID, payload)
	if err != nil {
		e.logger.Warn().Err(err).Str("type", eventType).Msg("build event failed")
		return
	}
	e.Emit(ctx, evt)
}
