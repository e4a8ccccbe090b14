package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MetaStore is a generic key-value table. Callers use it to record the
// embedding provider/model/dimension in use and detect changes that require
// an external full reindex; the store itself only exposes the primitive.
type MetaStore struct {
	db *DB
}

// Get returns the value for key, or ErrNotFound.
func (s *MetaStore) Get(ctx context.Context, key string) (string, error) {
	db, err := s.db.conn()
	if err != nil {
		return "", err
	}
	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a key-value pair.
func (s *MetaStore) Set(ctx context.Context, key, value string) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
