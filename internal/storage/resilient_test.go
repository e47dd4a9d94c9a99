package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchsync/sketchsync/internal/resilience"
)

var errDBDown = errors.New("connection refused")

// flakyStore fails every call until healed.
type flakyStore struct {
	*MemoryStore
	failing bool
}

func (s *flakyStore) Get(ctx context.Context, table, id string) (Record, error) {
	if s.failing {
		return nil, errDBDown
	}
	return s.MemoryStore.Get(ctx, table, id)
}

func testResilient(inner RecordStore, failureThreshold int) *Resilient {
	exec := resilience.NewExecutor(nil, resilience.ExecutorConfig{
		Name: "database",
		Breaker: resilience.BreakerConfig{
			FailureThreshold: failureThreshold,
			RecoveryTimeout:  time.Minute,
			IsExpected:       IsExpectedError,
		},
		Retry: resilience.RetryConfig{
			BaseDelay:   time.Millisecond,
			IsRetryable: func(err error) bool { return !IsExpectedError(err) },
		},
	})
	return NewResilient(inner, exec)
}

func TestResilientPassesThroughHealthyCalls(t *testing.T) {
	store := testResilient(NewMemoryStore(), 3)
	ctx := context.Background()

	created, err := store.Create(ctx, "projects", Record{"id": "p1", "name": "poster"})
	require.NoError(t, err)
	assert.Equal(t, "poster", created["name"])

	got, err := store.Get(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, "poster", got["name"])

	_, err = store.Update(ctx, "projects", "p1", Record{"name": "poster v2"})
	require.NoError(t, err)

	recs, err := store.FindMany(ctx, "projects", Filter{"name": "poster v2"}, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestResilientOpensAfterRepeatedFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failing: true}
	store := testResilient(inner, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.Get(ctx, "projects", "p1")
		require.ErrorIs(t, err, errDBDown)
	}

	_, err := store.Get(ctx, "projects", "p1")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen, "the breaker rejects once the threshold is reached")
}

func TestResilientNotFoundDoesNotTrip(t *testing.T) {
	store := testResilient(NewMemoryStore(), 2)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Get(ctx, "projects", "missing")
		require.ErrorIs(t, err, ErrRecordNotFound, "expected results pass through unchanged")
	}
}
