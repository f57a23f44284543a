package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

// media describes how VOD and series tables map onto CatalogItem.
type media struct {
	itemType ItemType
	table    string
	idColumn string
	image    string
	added    string
}

var (
	vodMedia    = media{ItemTypeVod, "vod_streams", "vod_id", "stream_icon", "added"}
	seriesMedia = media{ItemTypeSeries, "series", "series_id", "cover", "last_modified"}
)

func (m media) columns() string {
	extension := "''"
	if m.itemType == ItemTypeVod {
		extension = "COALESCE(container_extension, '')"
	}
	return fmt.Sprintf("%s, name, COALESCE(%s, ''), COALESCE(category_id, ''), COALESCE(rating, ''), %s",
		m.idColumn, m.image, extension)
}

func (m media) orderBy(sort SortKey) string {
	switch sort {
	case SortAZ:
		return "name COLLATE NOCASE ASC"
	case SortZA:
		return "name COLLATE NOCASE DESC"
	case SortOldest:
		return fmt.Sprintf("CAST(%s AS INTEGER) ASC, %s ASC", m.added, m.idColumn)
	default:
		return fmt.Sprintf("CAST(%s AS INTEGER) DESC, %s DESC", m.added, m.idColumn)
	}
}

func (r *CatalogRepository) StoreVodStreams(ctx context.Context, profileID string, streams []xtream.VodStream) error {
	err := r.bulkUpsert(ctx, `
		INSERT OR REPLACE INTO vod_streams (
			profile_id, vod_id, name, category_id, stream_icon, rating,
			rating_5based, container_extension, added, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(streams), func(i int) []any {
		s := streams[i]
		if s.StreamID == "" {
			return nil
		}
		return []any{
			profileID, s.StreamID.String(), s.Name.String(),
			nullIfBlank(s.CategoryID.String()), nullIfBlank(s.StreamIcon.String()),
			nullIfBlank(s.Rating.String()), nullIfBlank(s.Rating5Based.String()),
			nullIfBlank(s.ContainerExtension.String()), nullIfBlank(s.Added.String()),
			xtream.RawJSON(s.Raw, s),
		}
	})
	if err != nil {
		return fmt.Errorf("failed to store vod streams: %w", err)
	}
	return nil
}

func (r *CatalogRepository) StoreSeries(ctx context.Context, profileID string, items []xtream.SeriesItem) error {
	err := r.bulkUpsert(ctx, `
		INSERT OR REPLACE INTO series (
			profile_id, series_id, name, category_id, cover, rating, last_modified, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, len(items), func(i int) []any {
		s := items[i]
		if s.SeriesID == "" {
			return nil
		}
		return []any{
			profileID, s.SeriesID.String(), s.Name.String(),
			nullIfBlank(s.CategoryID.String()), nullIfBlank(s.Cover.String()),
			nullIfBlank(s.Rating.String()), nullIfBlank(s.LastModified.String()),
			xtream.RawJSON(s.Raw, s),
		}
	})
	if err != nil {
		return fmt.Errorf("failed to store series: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetVodPage(ctx context.Context, profileID string, limit, offset int, sort SortKey, categoryID string) ([]CatalogItem, error) {
	return r.getMediaPage(ctx, vodMedia, profileID, limit, offset, sort, categoryID)
}

func (r *CatalogRepository) GetSeriesPage(ctx context.Context, profileID string, limit, offset int, sort SortKey, categoryID string) ([]CatalogItem, error) {
	return r.getMediaPage(ctx, seriesMedia, profileID, limit, offset, sort, categoryID)
}

func (r *CatalogRepository) GetVodItemsByIDs(ctx context.Context, profileID string, ids []string) ([]CatalogItem, error) {
	return r.getMediaByIDs(ctx, vodMedia, profileID, ids)
}

func (r *CatalogRepository) GetSeriesItemsByIDs(ctx context.Context, profileID string, ids []string) ([]CatalogItem, error) {
	return r.getMediaByIDs(ctx, seriesMedia, profileID, ids)
}

// GetVodSimilar returns the most recent movies of the category, excluding excludeID.
func (r *CatalogRepository) GetVodSimilar(ctx context.Context, profileID, categoryID, excludeID string, limit int) ([]CatalogItem, error) {
	return r.getMediaSimilar(ctx, vodMedia, profileID, categoryID, excludeID, limit)
}

func (r *CatalogRepository) GetSeriesSimilar(ctx context.Context, profileID, categoryID, excludeID string, limit int) ([]CatalogItem, error) {
	return r.getMediaSimilar(ctx, seriesMedia, profileID, categoryID, excludeID, limit)
}

func (r *CatalogRepository) SearchVodStreams(ctx context.Context, profileID, query string, limit int) ([]CatalogItem, error) {
	return r.searchMedia(ctx, vodMedia, profileID, query, limit)
}

func (r *CatalogRepository) SearchSeriesItems(ctx context.Context, profileID, query string, limit int) ([]CatalogItem, error) {
	return r.searchMedia(ctx, seriesMedia, profileID, query, limit)
}

func (r *CatalogRepository) GetRecentVodItems(ctx context.Context, profileID string, limit int) ([]CatalogItem, error) {
	return r.getMediaPage(ctx, vodMedia, profileID, limit, 0, SortRecent, "")
}

func (r *CatalogRepository) GetRecentSeriesItems(ctx context.Context, profileID string, limit int) ([]CatalogItem, error) {
	return r.getMediaPage(ctx, seriesMedia, profileID, limit, 0, SortRecent, "")
}

func (r *CatalogRepository) getMediaPage(ctx context.Context, m media, profileID string, limit, offset int, sort SortKey, categoryID string) ([]CatalogItem, error) {
	where := []string{"profile_id = ?"}
	args := []any{profileID}
	if categoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, categoryID)
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		m.columns(), m.table, strings.Join(where, " AND "), m.orderBy(ParseSortKey(string(sort))))
	items, err := r.queryMediaItems(ctx, m, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s page: %w", m.itemType, err)
	}
	return items, nil
}

func (r *CatalogRepository) getMediaByIDs(ctx context.Context, m media, profileID string, ids []string) ([]CatalogItem, error) {
	if len(ids) == 0 {
		return []CatalogItem{}, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE profile_id = ? AND %s IN (%s)",
		m.columns(), m.table, m.idColumn, placeholders(len(ids)))
	items, err := r.queryMediaItems(ctx, m, query, append([]any{profileID}, stringArgs(ids)...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s items by ids: %w", m.itemType, err)
	}
	return orderByIDs(items, ids), nil
}

func (r *CatalogRepository) getMediaSimilar(ctx context.Context, m media, profileID, categoryID, excludeID string, limit int) ([]CatalogItem, error) {
	where := []string{"profile_id = ?", "category_id = ?"}
	args := []any{profileID, categoryID}
	if excludeID != "" {
		where = append(where, m.idColumn+" <> ?")
		args = append(args, excludeID)
	}
	args = append(args, limit)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ?",
		m.columns(), m.table, strings.Join(where, " AND "), m.orderBy(SortRecent))
	items, err := r.queryMediaItems(ctx, m, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get similar %s items: %w", m.itemType, err)
	}
	return items, nil
}

func (r *CatalogRepository) searchMedia(ctx context.Context, m media, profileID, query string, limit int) ([]CatalogItem, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE profile_id = ? AND lower(name) LIKE ? ESCAPE '\\' ORDER BY name COLLATE NOCASE ASC LIMIT ?",
		m.columns(), m.table)
	items, err := r.queryMediaItems(ctx, m, q, profileID, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", m.itemType, err)
	}
	return items, nil
}

func (r *CatalogRepository) queryMediaItems(ctx context.Context, m media, query string, args ...any) ([]CatalogItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []CatalogItem{}
	for rows.Next() {
		item := CatalogItem{Type: m.itemType}
		err := rows.Scan(&item.ID, &item.Title, &item.Image, &item.CategoryID, &item.Rating, &item.ContainerExtension)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", m.itemType, err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", m.itemType, err)
	}

	return items, nil
}
