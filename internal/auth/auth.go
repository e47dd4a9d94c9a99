package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sketchsync/sketchsync/internal/domain"
	"github.com/sketchsync/sketchsync/internal/storage"
	"github.com/sketchsync/sketchsync/lib/logger/sl"
)

var ErrUserInactive = errors.New("user is inactive")

// Service authenticates the connect handshake: a bearer credential is
// verified and the referenced user must still exist and be active.
type Service struct {
	tokens *TokenManager
	store  storage.RecordStore
	log    *slog.Logger
}

func NewService(tokens *TokenManager, store storage.RecordStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{tokens: tokens, store: store, log: log}
}

// Authenticate verifies the token and loads the user it references.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.User, error) {
	const op = "auth.authenticate"

	claims, err := s.tokens.Parse(token)
	if err != nil {
		return domain.User{}, err
	}

	rec, err := s.store.Get(ctx, "users", claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			s.log.Warn("token references unknown user",
				slog.String("op", op),
				slog.String("user_id", claims.UserID),
			)
			return domain.User{}, ErrInvalidToken
		}
		s.log.Error("user lookup failed", slog.String("op", op), sl.Err(err))
		return domain.User{}, err
	}

	user := domain.UserFromRecord(rec)
	if !user.IsActive {
		return domain.User{}, ErrUserInactive
	}
	return user, nil
}
