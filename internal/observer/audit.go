// Package observer holds the independent event-bus consumers: audit
// trail, analytics counters, user notifications and performance
// monitoring. The bus has no compile-time knowledge of any of them.
package observer

import (
	"strings"
	"sync"
	"time"

	"github.com/sketchsync/sketchsync/internal/eventbus"
)

const defaultAuditCapacity = 10000

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Audit records every user, project and design event into a bounded
// append-only log, queryable by actor.
type Audit struct {
	mu      sync.RWMutex
	entries []AuditEntry
	cap     int
}

func NewAudit(capacity int) *Audit {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &Audit{cap: capacity}
}

func (a *Audit) Name() string { return "audit" }

func (a *Audit) ShouldHandle(e eventbus.Event) bool {
	return strings.HasPrefix(e.Type, "user.") ||
		strings.HasPrefix(e.Type, "project.") ||
		strings.HasPrefix(e.Type, "design.")
}

func (a *Audit) Handle(e eventbus.Event) error {
	entry := AuditEntry{
		EventID:   e.ID.String(),
		Type:      e.Type,
		ActorID:   e.Meta.ActorID,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, entry)
	if len(a.entries) > a.cap {
		a.entries = a.entries[len(a.entries)-a.cap:]
	}
	return nil
}

// ByActor returns up to limit most recent entries for one actor,
// newest last. limit <= 0 means no limit.
func (a *Audit) ByActor(actorID string, limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	matched := make([]AuditEntry, 0)
	for _, entry := range a.entries {
		if entry.ActorID == actorID {
			matched = append(matched, entry)
		}
	}
	return tail(matched, limit)
}

// Recent returns up to limit most recent entries, newest last.
func (a *Audit) Recent(limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return tail(append([]AuditEntry(nil), a.entries...), limit)
}

func tail(entries []AuditEntry, limit int) []AuditEntry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}
