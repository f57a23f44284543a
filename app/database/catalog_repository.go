package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

// CatalogRepository handles the per-profile catalog mirror: categories,
// streams, detail payloads, EPG and sync metadata.
type CatalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

var catalogTables = []string{
	"categories",
	"live_streams",
	"vod_streams",
	"vod_info",
	"series",
	"series_info",
	"epg_channels",
	"epg_listings",
	"catalog_meta",
}

// ClearCatalogForProfile removes every catalog row of the profile in one transaction.
func (r *CatalogRepository) ClearCatalogForProfile(ctx context.Context, profileID string) error {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range catalogTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE profile_id = ?", profileID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear catalog for profile %s: %w", profileID, err)
	}
	return nil
}

func (r *CatalogRepository) ClearEpgForProfile(ctx context.Context, profileID string) error {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM epg_listings WHERE profile_id = ?", profileID); err != nil {
			return fmt.Errorf("failed to clear epg listings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM epg_channels WHERE profile_id = ?", profileID); err != nil {
			return fmt.Errorf("failed to clear epg channels: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear epg for profile %s: %w", profileID, err)
	}
	return nil
}

// bulkUpsert executes query once per row inside a single transaction. A nil
// slice from args skips the row.
func (r *CatalogRepository) bulkUpsert(ctx context.Context, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < n; i++ {
			row := args(i)
			if row == nil {
				continue
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *CatalogRepository) StoreCategories(ctx context.Context, profileID string, kind ItemType, categories []xtream.Category) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid category kind: %q", kind)
	}

	err := r.bulkUpsert(ctx, `
		INSERT OR REPLACE INTO categories (profile_id, kind, category_id, category_name, parent_id)
		VALUES (?, ?, ?, ?, ?)
	`, len(categories), func(i int) []any {
		c := categories[i]
		if c.CategoryID == "" {
			return nil
		}
		return []any{profileID, string(kind), c.CategoryID.String(), c.CategoryName.String(), nullIfBlank(c.ParentID.String())}
	})
	if err != nil {
		return fmt.Errorf("failed to store %s categories: %w", kind, err)
	}
	return nil
}

func (r *CatalogRepository) GetCategories(ctx context.Context, profileID string, kind ItemType) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category_id, category_name, COALESCE(parent_id, '')
		FROM categories
		WHERE profile_id = ? AND kind = ?
		ORDER BY rowid
	`, profileID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s categories: %w", kind, err)
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}

	return categories, nil
}

func (r *CatalogRepository) GetLiveCategories(ctx context.Context, profileID string) ([]Category, error) {
	return r.GetCategories(ctx, profileID, ItemTypeLive)
}

func (r *CatalogRepository) GetVodCategories(ctx context.Context, profileID string) ([]Category, error) {
	return r.GetCategories(ctx, profileID, ItemTypeVod)
}

func (r *CatalogRepository) GetSeriesCategories(ctx context.Context, profileID string) ([]Category, error) {
	return r.GetCategories(ctx, profileID, ItemTypeSeries)
}

// GetPrimaryLiveCategoryID returns the first live category, or "" when the
// portal leads with a catch-all entry.
func (r *CatalogRepository) GetPrimaryLiveCategoryID(ctx context.Context, profileID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT category_id FROM categories
		WHERE profile_id = ? AND kind = 'live'
		ORDER BY rowid
		LIMIT 1
	`, profileID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get primary live category: %w", err)
	}

	id = strings.TrimSpace(id)
	if id == "" || strings.EqualFold(id, "all") || id == "0" {
		return "", nil
	}
	return id, nil
}

// GetCatalogMeta returns nil when the key has never been set.
func (r *CatalogRepository) GetCatalogMeta(ctx context.Context, profileID, key string) (*CatalogMeta, error) {
	var meta CatalogMeta
	err := r.db.QueryRowContext(ctx, `
		SELECT value, updated_at FROM catalog_meta
		WHERE profile_id = ? AND key = ?
	`, profileID, key).Scan(&meta.Value, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog meta %s: %w", key, err)
	}
	return &meta, nil
}

func (r *CatalogRepository) SetCatalogMeta(ctx context.Context, profileID, key, value string) error {
	return r.SetCatalogMetaAt(ctx, profileID, key, value, time.Now())
}

func (r *CatalogRepository) SetCatalogMetaAt(ctx context.Context, profileID, key, value string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO catalog_meta (profile_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
	`, profileID, key, value, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set catalog meta %s: %w", key, err)
	}
	return nil
}

func (r *CatalogRepository) CountProfileRows(ctx context.Context, profileID string) (*ProfileCounts, error) {
	var counts ProfileCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM categories WHERE profile_id = ?1),
			(SELECT COUNT(*) FROM live_streams WHERE profile_id = ?1),
			(SELECT COUNT(*) FROM vod_streams WHERE profile_id = ?1),
			(SELECT COUNT(*) FROM series WHERE profile_id = ?1),
			(SELECT COUNT(*) FROM epg_channels WHERE profile_id = ?1),
			(SELECT COUNT(*) FROM epg_listings WHERE profile_id = ?1)
	`, profileID).Scan(
		&counts.Categories, &counts.LiveStreams, &counts.VodStreams,
		&counts.Series, &counts.EpgChannels, &counts.EpgListings,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count profile rows: %w", err)
	}
	return &counts, nil
}

func nullIfBlank(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
