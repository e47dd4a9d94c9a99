package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sketchsync/sketchsync/lib/logger/sl"
)

// TypeWildcard subscribes an observer to every event type.
const TypeWildcard = "*"

const (
	defaultHistorySize = 1000
	defaultBufferSize  = 256
)

// Bus is an in-process typed publish/subscribe hub. Each subscription
// owns a buffered channel drained by a dedicated worker goroutine, so
// a slow or failing observer never blocks the emitter or its peers.
// Delivery order within one event type is emission order per observer;
// no ordering is guaranteed across types.
type Bus struct {
	log     *slog.Logger
	bufSize int

	mu      sync.RWMutex
	subs    map[string][]*subscription
	history []Event
	histCap int
	closed  bool
}

type subscription struct {
	obs Observer
	ch  chan Event
}

type Option func(*Bus)

// WithHistorySize overrides the bounded event-history capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.histCap = n
		}
	}
}

// WithBufferSize overrides the per-subscription channel buffer.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

func New(log *slog.Logger, opts ...Option) *Bus {
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		log:     log,
		bufSize: defaultBufferSize,
		subs:    make(map[string][]*subscription),
		histCap: defaultHistorySize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers an observer for one event type (or TypeWildcard).
// Subscribing the same observer to the same type twice is a no-op.
func (b *Bus) Subscribe(eventType string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, s := range b.subs[eventType] {
		if s.obs == obs {
			return
		}
	}

	sub := &subscription{obs: obs, ch: make(chan Event, b.bufSize)}
	b.subs[eventType] = append(b.subs[eventType], sub)
	go b.run(sub)
}

// Unsubscribe removes an observer from one event type and stops its
// worker once the pending queue drains.
func (b *Bus) Unsubscribe(eventType string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.obs == obs {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Emit creates the event, appends it to the history ring and enqueues
// it to every matching subscription. Enqueueing is non-blocking: a
// subscription whose buffer is full misses the event (logged).
func (b *Bus) Emit(eventType string, payload map[string]any, meta Metadata) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Meta:      meta,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return e
	}
	b.history = append(b.history, e)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
	targets := make([]*subscription, 0, len(b.subs[eventType])+len(b.subs[TypeWildcard]))
	targets = append(targets, b.subs[eventType]...)
	if eventType != TypeWildcard {
		targets = append(targets, b.subs[TypeWildcard]...)
	}
	for _, s := range targets {
		select {
		case s.ch <- e:
		default:
			b.log.Warn("observer queue full, event dropped",
				slog.String("observer", s.obs.Name()),
				slog.String("event_type", e.Type),
			)
		}
	}
	b.mu.Unlock()

	return e
}

// History returns up to limit most recent events, newest last,
// optionally filtered by type. An empty type matches everything;
// limit <= 0 means no limit.
func (b *Bus) History(eventType string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if eventType == "" || e.Type == eventType {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// SubscriberCounts reports the number of observers per event type.
func (b *Bus) SubscriberCounts() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(b.subs))
	for t, subs := range b.subs {
		if len(subs) > 0 {
			counts[t] = len(subs)
		}
	}
	return counts
}

// Close stops all workers. Subsequent Emit calls still return an event
// but deliver nothing.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*subscription)
}

func (b *Bus) run(s *subscription) {
	for e := range s.ch {
		b.dispatch(s.obs, e)
	}
}

func (b *Bus) dispatch(obs Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("observer panicked",
				slog.String("observer", obs.Name()),
				slog.String("event_type", e.Type),
				slog.Any("panic", r),
			)
		}
	}()

	if !obs.ShouldHandle(e) {
		return
	}
	if err := obs.Handle(e); err != nil {
		b.log.Error("observer failed",
			slog.String("observer", obs.Name()),
			slog.String("event_type", e.Type),
			sl.Err(err),
		)
	}
}
