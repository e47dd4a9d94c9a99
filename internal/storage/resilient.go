package storage

import (
	"context"
	"errors"

	"github.com/sketchsync/sketchsync/internal/resilience"
)

// Resilient decorates a RecordStore so every call runs under the
// database dependency's breaker, retry and timeout policy. Not-found
// and already-exists results are expected outcomes, not dependency
// failures, and never trip the breaker.
type Resilient struct {
	inner RecordStore
	exec  *resilience.Executor
}

func NewResilient(inner RecordStore, exec *resilience.Executor) *Resilient {
	return &Resilient{inner: inner, exec: exec}
}

// IsExpectedError classifies storage results that are excluded from
// breaker failure counting. Wire it into the executor's BreakerConfig.
func IsExpectedError(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrRecordExists)
}

func (r *Resilient) Get(ctx context.Context, table, id string) (Record, error) {
	var rec Record
	err := r.exec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		rec, opErr = r.inner.Get(ctx, table, id)
		return opErr
	})
	return rec, err
}

func (r *Resilient) FindMany(ctx context.Context, table string, filter Filter, opts FindOptions) ([]Record, error) {
	var recs []Record
	err := r.exec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		recs, opErr = r.inner.FindMany(ctx, table, filter, opts)
		return opErr
	})
	return recs, err
}

func (r *Resilient) Create(ctx context.Context, table string, rec Record) (Record, error) {
	var created Record
	err := r.exec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		created, opErr = r.inner.Create(ctx, table, rec)
		return opErr
	})
	return created, err
}

func (r *Resilient) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	var updated Record
	err := r.exec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		updated, opErr = r.inner.Update(ctx, table, id, patch)
		return opErr
	})
	return updated, err
}
