package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LibraryRepository stores per-profile favorites, watch history and
// playback positions.
type LibraryRepository struct {
	db  *DB
	now func() time.Time
}

func NewLibraryRepository(db *DB) *LibraryRepository {
	return &LibraryRepository{db: db, now: time.Now}
}

func (r *LibraryRepository) AddFavorite(ctx context.Context, profileID string, itemType ItemType, itemID string) error {
	if err := r.touch(ctx, "favorites", profileID, itemType, itemID); err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

func (r *LibraryRepository) RemoveFavorite(ctx context.Context, profileID string, itemType ItemType, itemID string) error {
	if err := r.remove(ctx, "favorites", profileID, itemType, itemID); err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

func (r *LibraryRepository) IsFavorite(ctx context.Context, profileID string, itemType ItemType, itemID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM favorites WHERE profile_id = ? AND item_type = ? AND item_id = ?
	`, profileID, string(itemType), itemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return true, nil
}

func (r *LibraryRepository) GetFavorites(ctx context.Context, profileID string, limit int) ([]LibraryEntry, error) {
	entries, err := r.list(ctx, "favorites", profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get favorites: %w", err)
	}
	return entries, nil
}

func (r *LibraryRepository) AddRecentlyViewed(ctx context.Context, profileID string, itemType ItemType, itemID string) error {
	if err := r.touch(ctx, "recently_viewed", profileID, itemType, itemID); err != nil {
		return fmt.Errorf("failed to add recently viewed: %w", err)
	}
	return nil
}

func (r *LibraryRepository) GetRecentlyViewed(ctx context.Context, profileID string, limit int) ([]LibraryEntry, error) {
	entries, err := r.list(ctx, "recently_viewed", profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recently viewed: %w", err)
	}
	return entries, nil
}

func (r *LibraryRepository) UpsertContinueWatching(ctx context.Context, profileID string, itemType ItemType, itemID string, position, duration float64) error {
	if !itemType.Valid() {
		return fmt.Errorf("invalid item type: %q", itemType)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO continue_watching (
			profile_id, item_type, item_id, position_seconds, duration_seconds, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`, profileID, string(itemType), itemID, position, duration, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert continue watching: %w", err)
	}
	return nil
}

func (r *LibraryRepository) RemoveContinueWatching(ctx context.Context, profileID string, itemType ItemType, itemID string) error {
	if err := r.remove(ctx, "continue_watching", profileID, itemType, itemID); err != nil {
		return fmt.Errorf("failed to remove continue watching: %w", err)
	}
	return nil
}

func (r *LibraryRepository) GetContinueWatching(ctx context.Context, profileID string, limit int) ([]ContinueWatchingEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_type, item_id, updated_at, position_seconds, duration_seconds
		FROM continue_watching
		WHERE profile_id = ?
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get continue watching: %w", err)
	}
	defer rows.Close()

	entries := []ContinueWatchingEntry{}
	for rows.Next() {
		var e ContinueWatchingEntry
		var itemType string
		if err := rows.Scan(&itemType, &e.ItemID, &e.UpdatedAt, &e.PositionSeconds, &e.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan continue watching row: %w", err)
		}
		e.ItemType = ItemType(itemType)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating continue watching rows: %w", err)
	}

	return entries, nil
}

func (r *LibraryRepository) ClearLibraryForProfile(ctx context.Context, profileID string) error {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"favorites", "recently_viewed", "continue_watching"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE profile_id = ?", profileID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear library for profile %s: %w", profileID, err)
	}
	return nil
}

func (r *LibraryRepository) touch(ctx context.Context, table, profileID string, itemType ItemType, itemID string) error {
	if !itemType.Valid() {
		return fmt.Errorf("invalid item type: %q", itemType)
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+table+" (profile_id, item_type, item_id, updated_at) VALUES (?, ?, ?, ?)",
		profileID, string(itemType), itemID, r.now().UnixMilli())
	return err
}

func (r *LibraryRepository) remove(ctx context.Context, table, profileID string, itemType ItemType, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE profile_id = ? AND item_type = ? AND item_id = ?",
		profileID, string(itemType), itemID)
	return err
}

func (r *LibraryRepository) list(ctx context.Context, table, profileID string, limit int) ([]LibraryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT item_type, item_id, updated_at FROM "+table+" WHERE profile_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT ?",
		profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LibraryEntry{}
	for rows.Next() {
		var e LibraryEntry
		var itemType string
		if err := rows.Scan(&itemType, &e.ItemID, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		e.ItemType = ItemType(itemType)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}

	return entries, nil
}
