package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory RecordStore for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]Record),
	}
}

func (s *MemoryStore) Get(ctx context.Context, table, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tables[table][id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindMany(ctx context.Context, table string, filter Filter, opts FindOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, 0)
	for _, rec := range s.tables[table] {
		if matches(rec, filter) {
			result = append(result, cloneRecord(rec))
		}
	}

	if opts.OrderBy != "" {
		sort.SliceStable(result, func(i, j int) bool {
			less := lessValue(result[i][opts.OrderBy], result[j][opts.OrderBy])
			if opts.Desc {
				return !less
			}
			return less
		})
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []Record{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *MemoryStore) Create(ctx context.Context, table string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := cloneRecord(rec)
	id, _ := stored["id"].(string)
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]Record)
		s.tables[table] = rows
	}
	if _, ok := rows[id]; ok {
		return nil, ErrRecordExists
	}
	rows[id] = stored

	return cloneRecord(stored), nil
}

func (s *MemoryStore) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[table][id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	for k, v := range patch {
		rec[k] = v
	}
	rec["updated_at"] = time.Now().UTC()

	return cloneRecord(rec), nil
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func matches(rec Record, filter Filter) bool {
	for k, want := range filter {
		if rec[k] != want {
			return false
		}
	}
	return true
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Before(bv)
	default:
		return false
	}
}
