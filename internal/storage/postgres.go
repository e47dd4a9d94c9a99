package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostgresStore is the production RecordStore backed by Postgres
// through gorm's generic table access.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, table, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec map[string]any
	err := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("storage: get %s/%s: %w", table, id, err)
	}
	return rec, nil
}

func (s *PostgresStore) FindMany(ctx context.Context, table string, filter Filter, opts FindOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Table(table)
	if len(filter) > 0 {
		q = q.Where(map[string]any(filter))
	}
	if opts.OrderBy != "" {
		order := opts.OrderBy
		if opts.Desc {
			order += " DESC"
		}
		q = q.Order(order)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: find %s: %w", table, err)
	}

	result := make([]Record, 0, len(rows))
	for _, row := range rows {
		result = append(result, row)
	}
	return result, nil
}

func (s *PostgresStore) Create(ctx context.Context, table string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := make(map[string]any, len(rec)+2)
	for k, v := range rec {
		stored[k] = v
	}
	if id, _ := stored["id"].(string); id == "" {
		stored["id"] = uuid.NewString()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Table(table).Create(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrRecordExists
		}
		return nil, fmt.Errorf("storage: create %s: %w", table, err)
	}
	return stored, nil
}

func (s *PostgresStore) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updates := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	updates["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("storage: update %s/%s: %w", table, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	return s.Get(ctx, table, id)
}
