package domain

import "time"

// User is the slice of the externally-owned user record that the
// collaboration core needs for the handshake and presence.
type User struct {
	ID       string
	Email    string
	FullName string
	IsActive bool
}

// UserFromRecord maps a storage record onto a User. Missing fields are
// left at their zero values; is_active defaults to true when absent so
// that stores without the column keep working.
func UserFromRecord(rec map[string]any) User {
	u := User{IsActive: true}
	if v, ok := rec["id"].(string); ok {
		u.ID = v
	}
	if v, ok := rec["email"].(string); ok {
		u.Email = v
	}
	if v, ok := rec["full_name"].(string); ok {
		u.FullName = v
	}
	if v, ok := rec["is_active"].(bool); ok {
		u.IsActive = v
	}
	return u
}

// RoomSnapshot is what a joining client receives: the current members,
// the document version and the collaborator-supplied room state.
type RoomSnapshot struct {
	RoomID  string         `json:"room_id"`
	Members []string       `json:"members"`
	Version int64          `json:"version"`
	State   map[string]any `json:"state,omitempty"`
	Owner   string         `json:"owner,omitempty"`
	At      time.Time      `json:"at"`
}
