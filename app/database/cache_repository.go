package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CacheRepository is a small key/value store of JSON documents with
// age-based expiry on read.
type CacheRepository struct {
	db  *DB
	now func() time.Time
}

func NewCacheRepository(db *DB) *CacheRepository {
	return &CacheRepository{db: db, now: time.Now}
}

func (r *CacheRepository) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
	`, key, string(data), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set cache entry %s: %w", key, err)
	}
	return nil
}

// Get decodes the entry into dst. Entries older than maxAge are deleted and
// reported as a miss; maxAge <= 0 disables expiry. Undecodable entries are
// also a miss.
func (r *CacheRepository) Get(ctx context.Context, key string, maxAge time.Duration, dst any) (bool, error) {
	var value string
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, `SELECT value, updated_at FROM cache_entries WHERE key = ?`, key).
		Scan(&value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}

	if maxAge > 0 && r.now().UnixMilli()-updatedAt > maxAge.Milliseconds() {
		if err := r.Remove(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *CacheRepository) Remove(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove cache entry %s: %w", key, err)
	}
	return nil
}

func (r *CacheRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
