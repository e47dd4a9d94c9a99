package observer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sketchsync/sketchsync/internal/domain"
	"github.com/sketchsync/sketchsync/internal/eventbus"
)

// Notifier delivers a user-facing message; implemented by the
// connection registry. Delivery is fire-and-forget.
type Notifier interface {
	Notify(userID string, msg domain.Message)
}

// Notification translates selected events into user-facing messages.
// The target is named by the emitter via the notify_user_id payload
// field; events without one are ignored. It never fails the emitting
// transaction.
type Notification struct {
	log      *slog.Logger
	notifier Notifier
}

func NewNotification(log *slog.Logger, notifier Notifier) *Notification {
	if log == nil {
		log = slog.Default()
	}
	return &Notification{log: log, notifier: notifier}
}

func (n *Notification) Name() string { return "notification" }

func (n *Notification) ShouldHandle(e eventbus.Event) bool {
	switch e.Type {
	case "project.joined", "project.left", "design.updated", "chat.message":
		target, _ := e.Payload["notify_user_id"].(string)
		return target != ""
	default:
		return false
	}
}

func (n *Notification) Handle(e eventbus.Event) error {
	target, _ := e.Payload["notify_user_id"].(string)
	if target == "" {
		return nil
	}

	n.notifier.Notify(target, domain.Message{
		Type:   domain.TypeNotification,
		UserID: e.Meta.ActorID,
		Payload: map[string]any{
			"event": e.Type,
			"text":  notificationText(e),
		},
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func notificationText(e eventbus.Event) string {
	roomID, _ := e.Payload["room_id"].(string)

	switch e.Type {
	case "project.joined":
		return fmt.Sprintf("%s joined project %s", e.Meta.ActorID, roomID)
	case "project.left":
		return fmt.Sprintf("%s left project %s", e.Meta.ActorID, roomID)
	case "design.updated":
		return fmt.Sprintf("%s updated the design in project %s", e.Meta.ActorID, roomID)
	case "chat.message":
		return fmt.Sprintf("new chat message in project %s", roomID)
	default:
		return e.Type
	}
}
