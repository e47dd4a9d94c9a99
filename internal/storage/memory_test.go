package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, "projects", Record{"name": "landing page"})
	require.NoError(t, err)
	require.NotEmpty(t, created["id"])
	require.NotNil(t, created["created_at"])

	got, err := s.Get(ctx, "projects", created["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "landing page", got["name"])
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "projects", "nope")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "users", Record{"id": "u1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "users", Record{"id": "u1"})
	require.ErrorIs(t, err, ErrRecordExists)
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "designs", Record{"id": "d1", "version": int64(1)})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "designs", "d1", Record{"version": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated["version"])
	assert.NotNil(t, updated["updated_at"])

	_, err = s.Update(ctx, "designs", "missing", Record{})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStoreFindMany(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, room := range []string{"r1", "r1", "r2"} {
		_, err := s.Create(ctx, "messages", Record{
			"id":      string(rune('a' + i)),
			"room_id": room,
			"seq":     int64(i),
		})
		require.NoError(t, err)
	}

	got, err := s.FindMany(ctx, "messages", Filter{"room_id": "r1"}, FindOptions{OrderBy: "seq"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0]["seq"])

	desc, err := s.FindMany(ctx, "messages", Filter{}, FindOptions{OrderBy: "seq", Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, desc, 1)
	assert.Equal(t, int64(2), desc[0]["seq"])

	none, err := s.FindMany(ctx, "messages", Filter{"room_id": "r9"}, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "projects", Record{"id": "p1", "name": "original"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "projects", "p1")
	require.NoError(t, err)
	got["name"] = "mutated"

	fresh, err := s.Get(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, "original", fresh["name"], "callers must not be able to mutate stored rows")
}

func TestMemoryStoreHonorsContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "projects", "p1")
	require.ErrorIs(t, err, context.Canceled)
}
