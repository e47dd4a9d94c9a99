package observer

import (
	"sync"
	"time"

	"github.com/sketchsync/sketchsync/internal/eventbus"
)

// ActivityStats are running counters for one user or one room.
type ActivityStats struct {
	TotalActions int64            `json:"total_actions"`
	ByType       map[string]int64 `json:"by_type"`
	LastActivity time.Time        `json:"last_activity"`
}

// Analytics maintains per-user and per-room activity counters with an
// O(1) update per event.
type Analytics struct {
	mu     sync.RWMutex
	users  map[string]*ActivityStats
	rooms  map[string]*ActivityStats
	events int64
}

func NewAnalytics() *Analytics {
	return &Analytics{
		users: make(map[string]*ActivityStats),
		rooms: make(map[string]*ActivityStats),
	}
}

func (a *Analytics) Name() string { return "analytics" }

func (a *Analytics) ShouldHandle(e eventbus.Event) bool {
	if e.Meta.ActorID != "" {
		return true
	}
	_, ok := e.Payload["room_id"]
	return ok
}

func (a *Analytics) Handle(e eventbus.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events++
	if e.Meta.ActorID != "" {
		bump(a.users, e.Meta.ActorID, e)
	}
	if roomID, ok := e.Payload["room_id"].(string); ok && roomID != "" {
		bump(a.rooms, roomID, e)
	}
	return nil
}

func bump(m map[string]*ActivityStats, key string, e eventbus.Event) {
	stats, ok := m[key]
	if !ok {
		stats = &ActivityStats{ByType: make(map[string]int64)}
		m[key] = stats
	}
	stats.TotalActions++
	stats.ByType[e.Type]++
	if e.Timestamp.After(stats.LastActivity) {
		stats.LastActivity = e.Timestamp
	}
}

// UserStats returns a copy of one user's counters.
func (a *Analytics) UserStats(userID string) (ActivityStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyStats(a.users[userID])
}

// RoomStats returns a copy of one room's counters.
func (a *Analytics) RoomStats(roomID string) (ActivityStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyStats(a.rooms[roomID])
}

// Summary is the aggregated analytics view for the operator surface.
type Summary struct {
	TotalEvents int64                    `json:"total_events"`
	Users       map[string]ActivityStats `json:"users"`
	Rooms       map[string]ActivityStats `json:"rooms"`
}

func (a *Analytics) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Summary{
		TotalEvents: a.events,
		Users:       make(map[string]ActivityStats, len(a.users)),
		Rooms:       make(map[string]ActivityStats, len(a.rooms)),
	}
	for id, stats := range a.users {
		copied, _ := copyStats(stats)
		s.Users[id] = copied
	}
	for id, stats := range a.rooms {
		copied, _ := copyStats(stats)
		s.Rooms[id] = copied
	}
	return s
}

func copyStats(stats *ActivityStats) (ActivityStats, bool) {
	if stats == nil {
		return ActivityStats{}, false
	}
	out := ActivityStats{
		TotalActions: stats.TotalActions,
		ByType:       make(map[string]int64, len(stats.ByType)),
		LastActivity: stats.LastActivity,
	}
	for k, v := range stats.ByType {
		out.ByType[k] = v
	}
	return out, true
}
