package domain

import "time"

// Client-originated message types.
const (
	TypeJoinRoom        = "join_room"
	TypeLeaveRoom       = "leave_room"
	TypeContentUpdate   = "content_update"
	TypeCursorPosition  = "cursor_position"
	TypeSelectionChange = "selection_change"
	TypeDragState       = "drag_state"
	TypeChatMessage     = "chat_message"
	TypeTypingStart     = "typing_start"
	TypeTypingStop      = "typing_stop"
	TypePing            = "ping"
)

// Server-originated message types.
const (
	TypeConnectionAck    = "connection_ack"
	TypeRoomJoined       = "room_joined"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeContentUpdated   = "content_updated"
	TypeCursorMoved      = "cursor_moved"
	TypeSelectionChanged = "selection_changed"
	TypeDragUpdated      = "drag_updated"
	TypeTypingIndicator  = "typing_indicator"
	TypePong             = "pong"
	TypeError            = "error"
	TypeOfflineMessage   = "offline_message"
	TypeNotification     = "notification"
)

// Error codes carried in the payload of an "error" message.
const (
	CodeBadMessage      = "BAD_MESSAGE"
	CodeNotInRoom       = "NOT_IN_ROOM"
	CodeForbidden       = "FORBIDDEN"
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeDependency      = "DEPENDENCY_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
)

// Message is the single frame format exchanged over a collaboration
// connection, in both directions. Fields not relevant for a given type
// are omitted from the encoded frame.
type Message struct {
	Type      string         `json:"type"`
	Room      string         `json:"room,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Version   int64          `json:"version,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// ErrorMessage builds an "error" frame for the offending connection.
func ErrorMessage(code, detail string) Message {
	return Message{
		Type: TypeError,
		Payload: map[string]any{
			"code":    code,
			"message": detail,
		},
		Timestamp: time.Now().UTC(),
	}
}
