package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sketchsync/sketchsync/internal/domain"
)

const defaultSendBuffer = 64

// Conn is one live transport channel owned by an authenticated user.
// A user may hold several at once (multiple tabs). Outbound delivery
// is a buffered queue drained by the transport's write pump; Enqueue
// never blocks.
type Conn struct {
	ID     string
	UserID string

	mu       sync.RWMutex
	roomID   string
	lastSeen time.Time
	closed   bool

	outbound chan domain.Message
	dropped  atomic.Int64
}

func NewConn(userID string, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Conn{
		ID:       uuid.NewString(),
		UserID:   userID,
		lastSeen: time.Now().UTC(),
		outbound: make(chan domain.Message, sendBuffer),
	}
}

// RoomID returns the room this connection has joined, or "".
func (c *Conn) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Conn) setRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// Enqueue queues a message for delivery. It reports false when the
// connection is closed or its buffer is full; a slow client loses
// messages rather than stalling the sender.
func (c *Conn) Enqueue(msg domain.Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.outbound <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Outbound is drained by the transport write pump. The channel closes
// when the connection closes.
func (c *Conn) Outbound() <-chan domain.Message {
	return c.outbound
}

// Touch records inbound activity for stale-connection sweeping.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	c.mu.Unlock()
}

// LastSeen returns the time of the most recent inbound activity.
func (c *Conn) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Dropped returns how many outbound messages were discarded.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the outbound channel exactly once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.outbound)
}
