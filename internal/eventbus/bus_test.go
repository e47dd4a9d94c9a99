package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver captures every handled event in order.
type recordingObserver struct {
	name   string
	filter func(Event) bool

	mu     sync.Mutex
	events []Event
}

func newRecorder(name string) *recordingObserver {
	return &recordingObserver{name: name}
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) ShouldHandle(e Event) bool {
	if o.filter == nil {
		return true
	}
	return o.filter(e)
}

func (o *recordingObserver) Handle(e Event) error {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
	return nil
}

func (o *recordingObserver) seen() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

type panickyObserver struct{}

func (panickyObserver) Name() string            { return "panicky" }
func (panickyObserver) ShouldHandle(Event) bool { return true }
func (panickyObserver) Handle(Event) error      { panic("observer bug") }

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	joined := newRecorder("joined")
	other := newRecorder("other")
	bus.Subscribe("project.joined", joined)
	bus.Subscribe("project.left", other)

	e := bus.Emit("project.joined", map[string]any{"room_id": "r1"}, Metadata{ActorID: "u1"})
	require.NotEqual(t, uuid.Nil, e.ID)

	assert.Eventually(t, func() bool {
		return len(joined.seen()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, other.seen(), "observer on a different type must not receive the event")

	got := joined.seen()[0]
	assert.Equal(t, "project.joined", got.Type)
	assert.Equal(t, "u1", got.Meta.ActorID)
	assert.Equal(t, "r1", got.Payload["room_id"])
}

func TestBusWildcardReceivesEverything(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	all := newRecorder("all")
	bus.Subscribe(TypeWildcard, all)

	bus.Emit("project.joined", nil, Metadata{})
	bus.Emit("design.updated", nil, Metadata{})
	bus.Emit("chat.message", nil, Metadata{})

	assert.Eventually(t, func() bool {
		return len(all.seen()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestBusOrderPreservedPerObserver(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	rec := newRecorder("ordered")
	bus.Subscribe("design.updated", rec)

	const n = 50
	for i := 0; i < n; i++ {
		bus.Emit("design.updated", map[string]any{"seq": i}, Metadata{})
	}

	require.Eventually(t, func() bool {
		return len(rec.seen()) == n
	}, time.Second, 5*time.Millisecond)

	for i, e := range rec.seen() {
		assert.Equal(t, i, e.Payload["seq"], "events must arrive in emission order")
	}
}

func TestBusPanickingObserverIsolated(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	rec := newRecorder("survivor")
	bus.Subscribe("system.error", panickyObserver{})
	bus.Subscribe("system.error", rec)

	bus.Emit("system.error", nil, Metadata{})
	bus.Emit("system.error", nil, Metadata{})

	assert.Eventually(t, func() bool {
		return len(rec.seen()) == 2
	}, time.Second, 5*time.Millisecond, "a panicking observer must not affect its peers")
}

func TestBusShouldHandleFilters(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	rec := newRecorder("filtered")
	rec.filter = func(e Event) bool {
		return e.Meta.ActorID == "wanted"
	}
	bus.Subscribe(TypeWildcard, rec)

	bus.Emit("project.joined", nil, Metadata{ActorID: "ignored"})
	bus.Emit("project.joined", nil, Metadata{ActorID: "wanted"})

	assert.Eventually(t, func() bool {
		return len(rec.seen()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "wanted", rec.seen()[0].Meta.ActorID)
}

func TestBusSubscribeSameObserverTwiceIsNoop(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	rec := newRecorder("once")
	bus.Subscribe("chat.message", rec)
	bus.Subscribe("chat.message", rec)

	assert.Equal(t, map[string]int{"chat.message": 1}, bus.SubscriberCounts())
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	rec := newRecorder("gone")
	bus.Subscribe("chat.message", rec)

	bus.Emit("chat.message", nil, Metadata{})
	require.Eventually(t, func() bool {
		return len(rec.seen()) == 1
	}, time.Second, 5*time.Millisecond)

	bus.Unsubscribe("chat.message", rec)
	bus.Emit("chat.message", nil, Metadata{})

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.seen(), 1)
	assert.Empty(t, bus.SubscriberCounts())
}

func TestBusHistoryFilterAndLimit(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Emit("project.joined", map[string]any{"seq": i}, Metadata{})
		bus.Emit("chat.message", nil, Metadata{})
	}

	all := bus.History("", 0)
	assert.Len(t, all, 10)

	joined := bus.History("project.joined", 2)
	require.Len(t, joined, 2)
	assert.Equal(t, 3, joined[0].Payload["seq"])
	assert.Equal(t, 4, joined[1].Payload["seq"], "History returns the most recent events, newest last")
}

func TestBusHistoryIsBounded(t *testing.T) {
	bus := New(nil, WithHistorySize(10))
	defer bus.Close()

	for i := 0; i < 25; i++ {
		bus.Emit("design.updated", map[string]any{"seq": i}, Metadata{})
	}

	got := bus.History("", 0)
	require.Len(t, got, 10)
	assert.Equal(t, 15, got[0].Payload["seq"], "oldest events are evicted first")
}

func TestBusEmitAfterCloseDeliversNothing(t *testing.T) {
	bus := New(nil)
	rec := newRecorder("late")
	bus.Subscribe(TypeWildcard, rec)
	bus.Close()

	e := bus.Emit("project.joined", nil, Metadata{})
	assert.Equal(t, "project.joined", e.Type, "Emit still returns the event after Close")

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.seen())
}
