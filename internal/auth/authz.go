package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sketchsync/sketchsync/internal/storage"
)

var (
	ErrForbidden       = errors.New("access to project denied")
	ErrProjectNotFound = errors.New("project not found")
)

// Authorizer decides whether a user may join a collaboration room.
type Authorizer interface {
	CanAccess(ctx context.Context, userID, projectID string) error
}

// ProjectAuthorizer grants access to the project owner and, when the
// project has collaboration enabled, to any authenticated user.
type ProjectAuthorizer struct {
	store storage.RecordStore
	log   *slog.Logger
}

func NewProjectAuthorizer(store storage.RecordStore, log *slog.Logger) *ProjectAuthorizer {
	if log == nil {
		log = slog.Default()
	}
	return &ProjectAuthorizer{store: store, log: log}
}

func (a *ProjectAuthorizer) CanAccess(ctx context.Context, userID, projectID string) error {
	rec, err := a.store.Get(ctx, "projects", projectID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}

	if owner, _ := rec["owner_id"].(string); owner == userID {
		return nil
	}
	if enabled, _ := rec["collaboration_enabled"].(bool); enabled {
		return nil
	}

	a.log.Info("room access denied",
		slog.String("user_id", userID),
		slog.String("project_id", projectID),
	)
	return ErrForbidden
}
