package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Metadata carries optional correlation data attached at emission time.
type Metadata struct {
	ActorID   string `json:"actor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Event is an immutable fact published on the bus. Types are
// dot-namespaced, e.g. "project.joined" or "design.updated".
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      Metadata       `json:"meta,omitempty"`
}

// Observer is the capability every bus consumer implements.
// ShouldHandle is a cheap filter; Handle performs the effect. A Handle
// error (or panic) is logged by the bus and never reaches the emitter
// or other observers.
type Observer interface {
	Name() string
	ShouldHandle(e Event) bool
	Handle(e Event) error
}
