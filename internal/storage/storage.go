// Package storage defines the record-store collaborator the
// collaboration core persists through. Records are schemaless rows
// addressed by table name and id; the authoritative schema is owned by
// the external application, not by this core.
package storage

import (
	"context"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
)

// Record is one stored row.
type Record = map[string]any

// Filter is an equality predicate over record fields.
type Filter = map[string]any

// FindOptions shapes a FindMany result set.
type FindOptions struct {
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// RecordStore is the narrow persistence interface the core depends on.
type RecordStore interface {
	Get(ctx context.Context, table, id string) (Record, error)
	FindMany(ctx context.Context, table string, filter Filter, opts FindOptions) ([]Record, error)
	Create(ctx context.Context, table string, rec Record) (Record, error)
	Update(ctx context.Context, table, id string, patch Record) (Record, error)
}
