package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sketchsync/sketchsync/internal/domain"
	"github.com/sketchsync/sketchsync/internal/metrics"
)

const defaultOfflineQueue = 50

// Registry maps authenticated user identity to live connections. It
// owns the user presence sets exclusively; only connect/disconnect
// events mutate them. A user is online iff their set is non-empty.
type Registry struct {
	log        *slog.Logger
	m          *metrics.Metrics
	offlineCap int

	mu      sync.RWMutex
	byUser  map[string]map[string]*Conn
	offline map[string][]domain.Message
}

func NewRegistry(log *slog.Logger, m *metrics.Metrics, offlineCap int) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if offlineCap <= 0 {
		offlineCap = defaultOfflineQueue
	}
	return &Registry{
		log:        log,
		m:          m,
		offlineCap: offlineCap,
		byUser:     make(map[string]map[string]*Conn),
		offline:    make(map[string][]domain.Message),
	}
}

// Register adds a connection and flushes any messages queued while the
// user was offline.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	conns, ok := r.byUser[c.UserID]
	if !ok {
		conns = make(map[string]*Conn)
		r.byUser[c.UserID] = conns
	}
	conns[c.ID] = c
	queued := r.offline[c.UserID]
	delete(r.offline, c.UserID)
	r.mu.Unlock()

	r.m.ConnOpened()
	r.log.Info("connection registered",
		slog.String("user_id", c.UserID),
		slog.String("conn_id", c.ID),
	)

	for _, msg := range queued {
		c.Enqueue(domain.Message{
			Type:      domain.TypeOfflineMessage,
			Payload:   map[string]any{"original_message": msg},
			Timestamp: time.Now().UTC(),
		})
	}
}

// Unregister removes a connection and closes it. Removing an unknown
// connection is a no-op.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	conns, ok := r.byUser[c.UserID]
	if ok {
		if _, ok = conns[c.ID]; ok {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(r.byUser, c.UserID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	c.Close()
	r.m.ConnClosed()
	r.log.Info("connection unregistered",
		slog.String("user_id", c.UserID),
		slog.String("conn_id", c.ID),
	)
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Send delivers a message to all of the user's live connections.
// An offline user gets the message queued (bounded, oldest dropped).
func (r *Registry) Send(userID string, msg domain.Message) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		r.queueOffline(userID, msg)
		return
	}

	for _, c := range conns {
		if c.Enqueue(msg) {
			r.m.MessageOut(msg.Type)
		} else {
			r.m.MessageDropped()
			r.log.Debug("outbound message dropped",
				slog.String("user_id", userID),
				slog.String("conn_id", c.ID),
				slog.String("type", msg.Type),
			)
		}
	}
}

// Notify satisfies the notification observer's delivery hook.
// Fire-and-forget: a missing connection is simply a queued message.
func (r *Registry) Notify(userID string, msg domain.Message) {
	r.Send(userID, msg)
}

func (r *Registry) queueOffline(userID string, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := append(r.offline[userID], msg)
	if len(q) > r.offlineCap {
		q = q[len(q)-r.offlineCap:]
	}
	r.offline[userID] = q
}

// OnlineUsers lists users with at least one live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	return users
}

// RegistryStats is the introspection view of the registry.
type RegistryStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveUsers      int            `json:"active_users"`
	PerUser          map[string]int `json:"per_user"`
	OfflineQueues    int            `json:"offline_queues"`
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		ActiveUsers:   len(r.byUser),
		PerUser:       make(map[string]int, len(r.byUser)),
		OfflineQueues: len(r.offline),
	}
	for id, conns := range r.byUser {
		stats.PerUser[id] = len(conns)
		stats.TotalConnections += len(conns)
	}
	return stats
}

// Stale returns connections with no inbound activity for maxIdle.
// The caller is expected to disconnect them.
func (r *Registry) Stale(maxIdle time.Duration) []*Conn {
	cutoff := time.Now().UTC().Add(-maxIdle)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*Conn
	for _, conns := range r.byUser {
		for _, c := range conns {
			if c.LastSeen().Before(cutoff) {
				stale = append(stale, c)
			}
		}
	}
	return stale
}
