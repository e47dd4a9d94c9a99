package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sketchsync/sketchsync/internal/domain"
	"github.com/sketchsync/sketchsync/internal/eventbus"
	"github.com/sketchsync/sketchsync/internal/metrics"
	"github.com/sketchsync/sketchsync/internal/storage"
	"github.com/sketchsync/sketchsync/lib/logger/sl"
)

var (
	// ErrNotInRoom is protocol misuse: relaying to a room the
	// connection never joined. The connection is not torn down.
	ErrNotInRoom = errors.New("connection has not joined this room")

	// ErrVersionConflict rejects a content update whose declared
	// version does not match the room's current version.
	ErrVersionConflict = errors.New("content update version conflict")
)

// VersionConflictError carries the current version back to the sender
// so the client can rebase. errors.Is matches ErrVersionConflict.
type VersionConflictError struct {
	Declared int64
	Current  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: declared %d, current %d", e.Declared, e.Current)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Authorizer is the external project-ownership collaborator consulted
// on every join.
type Authorizer interface {
	CanAccess(ctx context.Context, userID, projectID string) error
}

// RoomManager owns room membership exclusively and routes broadcasts.
// All persistence goes through the resilient record store it is
// constructed with.
type RoomManager struct {
	log      *slog.Logger
	registry *Registry
	store    storage.RecordStore
	authz    Authorizer
	bus      *eventbus.Bus
	m        *metrics.Metrics

	mu    sync.RWMutex
	rooms map[string]*room
}

// room serializes all mutation and fan-out for one collaboration
// session, giving FIFO broadcast order per room.
type room struct {
	id      string
	ownerID string

	mu      sync.Mutex
	members map[string]map[string]struct{} // userID -> conn ids
	version int64
}

func NewRoomManager(
	log *slog.Logger,
	registry *Registry,
	store storage.RecordStore,
	authz Authorizer,
	bus *eventbus.Bus,
	m *metrics.Metrics,
) *RoomManager {
	if log == nil {
		log = slog.Default()
	}
	return &RoomManager{
		log:      log,
		registry: registry,
		store:    store,
		authz:    authz,
		bus:      bus,
		m:        m,
		rooms:    make(map[string]*room),
	}
}

// Join validates authorization, adds the user to the membership set,
// broadcasts user_joined to the other members and returns the current
// membership plus the persisted room-state snapshot.
func (rm *RoomManager) Join(ctx context.Context, conn *Conn, roomID string) (domain.RoomSnapshot, error) {
	const op = "realtime.room.join"
	log := rm.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("user_id", conn.UserID),
	)

	if err := rm.authz.CanAccess(ctx, conn.UserID, roomID); err != nil {
		log.Info("join rejected", sl.Err(err))
		return domain.RoomSnapshot{}, err
	}

	project, err := rm.store.Get(ctx, "projects", roomID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return domain.RoomSnapshot{}, err
	}
	state, version := rm.loadDesign(ctx, roomID)

	if current := conn.RoomID(); current != "" && current != roomID {
		if err := rm.Leave(ctx, conn, current); err != nil && !errors.Is(err, ErrNotInRoom) {
			log.Warn("implicit leave failed", sl.Err(err))
		}
	}

	ownerID, _ := project["owner_id"].(string)
	r := rm.getOrCreateRoom(roomID, ownerID, version)

	r.mu.Lock()
	conns, known := r.members[conn.UserID]
	if !known {
		conns = make(map[string]struct{})
		r.members[conn.UserID] = conns
	}
	conns[conn.ID] = struct{}{}
	newMember := !known
	members := r.memberList()
	currentVersion := r.version

	if newMember {
		rm.fanOut(r, domain.Message{
			Type:      domain.TypeUserJoined,
			Room:      roomID,
			UserID:    conn.UserID,
			Timestamp: time.Now().UTC(),
		}, conn.UserID)
	}
	r.mu.Unlock()

	conn.setRoom(roomID)
	rm.m.SetRooms(rm.roomCount())

	rm.bus.Emit("project.joined", map[string]any{
		"room_id":  roomID,
		"owner_id": r.ownerID,
	}, eventbus.Metadata{ActorID: conn.UserID})

	log.Info("user joined room", slog.Int("members", len(members)))

	return domain.RoomSnapshot{
		RoomID:  roomID,
		Members: members,
		Version: currentVersion,
		State:   state,
		Owner:   r.ownerID,
		At:      time.Now().UTC(),
	}, nil
}

// Leave removes the connection from the room, broadcasting user_left
// to the remaining members once the user's last connection is gone.
// Empty rooms are destroyed.
func (rm *RoomManager) Leave(ctx context.Context, conn *Conn, roomID string) error {
	const op = "realtime.room.leave"

	r := rm.getRoom(roomID)
	if r == nil {
		return ErrNotInRoom
	}

	r.mu.Lock()
	conns, ok := r.members[conn.UserID]
	if !ok {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if _, ok := conns[conn.ID]; !ok {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	delete(conns, conn.ID)
	userGone := len(conns) == 0
	if userGone {
		delete(r.members, conn.UserID)
	}
	empty := len(r.members) == 0

	if userGone && !empty {
		rm.fanOut(r, domain.Message{
			Type:      domain.TypeUserLeft,
			Room:      roomID,
			UserID:    conn.UserID,
			Timestamp: time.Now().UTC(),
		}, conn.UserID)
	}
	r.mu.Unlock()

	conn.setRoom("")

	if empty {
		rm.removeRoom(roomID)
	}
	rm.m.SetRooms(rm.roomCount())

	rm.bus.Emit("project.left", map[string]any{
		"room_id": roomID,
	}, eventbus.Metadata{ActorID: conn.UserID})

	rm.log.Info("user left room",
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("user_id", conn.UserID),
	)
	return nil
}

// Disconnect is the transport-closure cleanup path: implicit room
// leave plus registry unregister. Safe to call more than once.
func (rm *RoomManager) Disconnect(ctx context.Context, conn *Conn) {
	if roomID := conn.RoomID(); roomID != "" {
		if err := rm.Leave(ctx, conn, roomID); err != nil && !errors.Is(err, ErrNotInRoom) {
			rm.log.Error("leave on disconnect failed",
				slog.String("conn_id", conn.ID),
				sl.Err(err),
			)
		}
	}
	rm.registry.Unregister(conn)
}

// Relay routes one client action to the other room members. Content
// updates are persisted first (through the resilient store) and bump
// the version; a persist failure surfaces to the sender only. Chat is
// persisted without touching the version. Cursor, selection, drag and
// typing are ephemeral pass-through.
func (rm *RoomManager) Relay(ctx context.Context, conn *Conn, msg domain.Message) error {
	roomID := conn.RoomID()
	if roomID == "" || (msg.Room != "" && msg.Room != roomID) {
		return ErrNotInRoom
	}
	r := rm.getRoom(roomID)
	if r == nil {
		return ErrNotInRoom
	}

	start := time.Now()
	defer func() {
		rm.m.ObserveBroadcast(time.Since(start))
	}()

	switch msg.Type {
	case domain.TypeContentUpdate:
		return rm.relayContentUpdate(ctx, r, conn, msg)

	case domain.TypeChatMessage:
		return rm.relayChat(ctx, r, conn, msg)

	case domain.TypeCursorPosition:
		return rm.relayEphemeral(r, conn, msg, domain.TypeCursorMoved, nil)

	case domain.TypeSelectionChange:
		return rm.relayEphemeral(r, conn, msg, domain.TypeSelectionChanged, nil)

	case domain.TypeDragState:
		return rm.relayEphemeral(r, conn, msg, domain.TypeDragUpdated, nil)

	case domain.TypeTypingStart:
		return rm.relayEphemeral(r, conn, msg, domain.TypeTypingIndicator, map[string]any{"typing": true})

	case domain.TypeTypingStop:
		return rm.relayEphemeral(r, conn, msg, domain.TypeTypingIndicator, map[string]any{"typing": false})

	default:
		return fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}

func (rm *RoomManager) relayContentUpdate(ctx context.Context, r *room, conn *Conn, msg domain.Message) error {
	const op = "realtime.room.contentUpdate"

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMember(conn); err != nil {
		return err
	}
	if msg.Version != r.version {
		return &VersionConflictError{Declared: msg.Version, Current: r.version}
	}

	newVersion := r.version + 1
	if err := rm.persistDesign(ctx, r.id, conn.UserID, newVersion, msg.Payload); err != nil {
		rm.log.Error("content update persist failed",
			slog.String("op", op),
			slog.String("room_id", r.id),
			sl.Err(err),
		)
		return err
	}
	r.version = newVersion

	rm.fanOut(r, domain.Message{
		Type:      domain.TypeContentUpdated,
		Room:      r.id,
		UserID:    conn.UserID,
		Version:   newVersion,
		Payload:   msg.Payload,
		Timestamp: time.Now().UTC(),
	}, conn.UserID)

	payload := map[string]any{
		"room_id": r.id,
		"version": newVersion,
	}
	if r.ownerID != "" && r.ownerID != conn.UserID {
		payload["notify_user_id"] = r.ownerID
	}
	rm.bus.Emit("design.updated", payload, eventbus.Metadata{ActorID: conn.UserID})

	return nil
}

func (rm *RoomManager) relayChat(ctx context.Context, r *room, conn *Conn, msg domain.Message) error {
	text, _ := msg.Payload["text"].(string)
	if text == "" {
		return fmt.Errorf("chat message text is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMember(conn); err != nil {
		return err
	}

	rec := storage.Record{
		"id":      uuid.NewString(),
		"room_id": r.id,
		"user_id": conn.UserID,
		"content": text,
	}
	if _, err := rm.store.Create(ctx, "messages", rec); err != nil {
		return err
	}

	rm.fanOut(r, domain.Message{
		Type:      domain.TypeChatMessage,
		Room:      r.id,
		UserID:    conn.UserID,
		Payload:   map[string]any{"id": rec["id"], "text": text},
		Timestamp: time.Now().UTC(),
	}, conn.UserID)

	rm.bus.Emit("chat.message", map[string]any{
		"room_id":    r.id,
		"message_id": rec["id"],
	}, eventbus.Metadata{ActorID: conn.UserID})

	return nil
}

func (rm *RoomManager) relayEphemeral(r *room, conn *Conn, msg domain.Message, outType string, extra map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMember(conn); err != nil {
		return err
	}

	payload := msg.Payload
	if len(extra) > 0 {
		payload = make(map[string]any, len(msg.Payload)+len(extra))
		for k, v := range msg.Payload {
			payload[k] = v
		}
		for k, v := range extra {
			payload[k] = v
		}
	}

	rm.fanOut(r, domain.Message{
		Type:      outType,
		Room:      r.id,
		UserID:    conn.UserID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, conn.UserID)

	return nil
}

// Members returns the current membership of a room.
func (rm *RoomManager) Members(roomID string) []string {
	r := rm.getRoom(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberList()
}

// Version returns the room's current document version.
func (rm *RoomManager) Version(roomID string) int64 {
	r := rm.getRoom(roomID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// RoomStats is the introspection view of one room.
type RoomStats struct {
	Members int   `json:"members"`
	Version int64 `json:"version"`
}

func (rm *RoomManager) Stats() map[string]RoomStats {
	rm.mu.RLock()
	rooms := make([]*room, 0, len(rm.rooms))
	for _, r := range rm.rooms {
		rooms = append(rooms, r)
	}
	rm.mu.RUnlock()

	stats := make(map[string]RoomStats, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		stats[r.id] = RoomStats{Members: len(r.members), Version: r.version}
		r.mu.Unlock()
	}
	return stats
}

// fanOut delivers to every member except excludeUser. Callers hold
// r.mu so relay-call order is broadcast order for this room.
func (rm *RoomManager) fanOut(r *room, msg domain.Message, excludeUser string) {
	for userID := range r.members {
		if userID == excludeUser {
			continue
		}
		rm.registry.Send(userID, msg)
	}
}

func (rm *RoomManager) persistDesign(ctx context.Context, roomID, userID string, version int64, content map[string]any) error {
	patch := storage.Record{
		"content":    content,
		"version":    version,
		"updated_by": userID,
	}
	_, err := rm.store.Update(ctx, "designs", roomID, patch)
	if errors.Is(err, storage.ErrRecordNotFound) {
		rec := storage.Record{"id": roomID, "project_id": roomID}
		for k, v := range patch {
			rec[k] = v
		}
		_, err = rm.store.Create(ctx, "designs", rec)
	}
	return err
}

// loadDesign fetches the persisted snapshot and its version; a missing
// design record means a fresh document at version 0.
func (rm *RoomManager) loadDesign(ctx context.Context, roomID string) (map[string]any, int64) {
	rec, err := rm.store.Get(ctx, "designs", roomID)
	if err != nil {
		if !errors.Is(err, storage.ErrRecordNotFound) {
			rm.log.Warn("design snapshot load failed",
				slog.String("room_id", roomID),
				sl.Err(err),
			)
		}
		return nil, 0
	}
	return rec, versionFromRecord(rec)
}

func (rm *RoomManager) getRoom(roomID string) *room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.rooms[roomID]
}

func (rm *RoomManager) getOrCreateRoom(roomID, ownerID string, version int64) *room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if r, ok := rm.rooms[roomID]; ok {
		return r
	}
	r := &room{
		id:      roomID,
		ownerID: ownerID,
		members: make(map[string]map[string]struct{}),
		version: version,
	}
	rm.rooms[roomID] = r
	return r
}

func (rm *RoomManager) removeRoom(roomID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	r, ok := rm.rooms[roomID]
	if !ok {
		return
	}
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		delete(rm.rooms, roomID)
	}
}

func (rm *RoomManager) roomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// requireMember is called with r.mu held.
func (r *room) requireMember(conn *Conn) error {
	conns, ok := r.members[conn.UserID]
	if !ok {
		return ErrNotInRoom
	}
	if _, ok := conns[conn.ID]; !ok {
		return ErrNotInRoom
	}
	return nil
}

// memberList is called with r.mu held.
func (r *room) memberList() []string {
	members := make([]string, 0, len(r.members))
	for userID := range r.members {
		members = append(members, userID)
	}
	return members
}

func versionFromRecord(rec storage.Record) int64 {
	switch v := rec["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
