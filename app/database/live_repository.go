package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

const liveItemColumns = `stream_id, name, COALESCE(stream_icon, ''), COALESCE(category_id, ''), COALESCE(epg_channel_id, epg_id, '')`

const hasIconClause = `stream_icon IS NOT NULL AND TRIM(stream_icon) <> ''`

// SQL rendition of textnorm.NormalizeChannelID applied to a column.
const normalizeColumnSQL = `lower(replace(replace(replace(replace(replace(%s, '.', ''), '-', ''), '_', ''), ' ', ''), '/', ''))`

func (r *CatalogRepository) StoreLiveStreams(ctx context.Context, profileID string, streams []xtream.LiveStream) error {
	err := r.bulkUpsert(ctx, `
		INSERT OR REPLACE INTO live_streams (
			profile_id, stream_id, name, category_id, stream_icon, stream_type,
			epg_channel_id, epg_id, tv_archive, tv_archive_duration, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(streams), func(i int) []any {
		s := streams[i]
		if s.StreamID == "" {
			return nil
		}
		return []any{
			profileID, s.StreamID.String(), s.Name.String(),
			nullIfBlank(s.CategoryID.String()), nullIfBlank(s.StreamIcon.String()),
			nullIfBlank(s.StreamType.String()), nullIfBlank(s.EpgChannelID.String()),
			nullIfBlank(s.EpgID.String()), nullIfBlank(s.TvArchive.String()),
			nullIfBlank(s.TvArchiveDuration.String()), xtream.RawJSON(s.Raw, s),
		}
	})
	if err != nil {
		return fmt.Errorf("failed to store live streams: %w", err)
	}
	return nil
}

// GetLivePage pages live channels in insertion order.
func (r *CatalogRepository) GetLivePage(ctx context.Context, profileID string, limit, offset int, categoryID string, opts LivePageOptions) ([]CatalogItem, error) {
	where := []string{"profile_id = ?"}
	args := []any{profileID}
	if !opts.IncludeMissingIcons {
		where = append(where, hasIconClause)
	}
	if categoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, categoryID)
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT %s FROM live_streams WHERE %s ORDER BY rowid ASC LIMIT ? OFFSET ?`,
		liveItemColumns, strings.Join(where, " AND "))

	items, err := r.queryLiveItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get live page: %w", err)
	}
	return items, nil
}

func (r *CatalogRepository) GetLiveItemsByIDs(ctx context.Context, profileID string, ids []string) ([]CatalogItem, error) {
	if len(ids) == 0 {
		return []CatalogItem{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM live_streams WHERE profile_id = ? AND stream_id IN (%s)`,
		liveItemColumns, placeholders(len(ids)))
	items, err := r.queryLiveItems(ctx, query, append([]any{profileID}, stringArgs(ids)...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get live items by ids: %w", err)
	}
	return orderByIDs(items, ids), nil
}

func (r *CatalogRepository) SearchLiveStreams(ctx context.Context, profileID, query string, limit int) ([]CatalogItem, error) {
	q := fmt.Sprintf(`SELECT %s FROM live_streams WHERE profile_id = ? AND lower(name) LIKE ? ESCAPE '\' ORDER BY name COLLATE NOCASE ASC LIMIT ?`,
		liveItemColumns)
	items, err := r.queryLiveItems(ctx, q, profileID, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search live streams: %w", err)
	}
	return items, nil
}

// GetRecentLiveItems returns icon-bearing channels, newest stream ids first.
func (r *CatalogRepository) GetRecentLiveItems(ctx context.Context, profileID string, limit int, categoryID string) ([]CatalogItem, error) {
	where := []string{"profile_id = ?", hasIconClause}
	args := []any{profileID}
	if categoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, categoryID)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM live_streams WHERE %s ORDER BY CAST(stream_id AS INTEGER) DESC, name ASC LIMIT ?`,
		liveItemColumns, strings.Join(where, " AND "))
	items, err := r.queryLiveItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent live items: %w", err)
	}
	return items, nil
}

// GetLiveChannelOffset returns the position of the stream in unfiltered
// paging order. found is false when the stream does not exist.
func (r *CatalogRepository) GetLiveChannelOffset(ctx context.Context, profileID, streamID string) (offset int, found bool, err error) {
	var rowid int64
	err = r.db.QueryRowContext(ctx, `SELECT rowid FROM live_streams WHERE profile_id = ? AND stream_id = ?`,
		profileID, streamID).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get live channel row: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM live_streams WHERE profile_id = ? AND rowid < ?`,
		profileID, rowid).Scan(&offset)
	if err != nil {
		return 0, false, fmt.Errorf("failed to count live channel offset: %w", err)
	}
	return offset, true, nil
}

// GetLiveItemsWithCurrentEpg samples icon-bearing channels that have a
// programme airing at nowKey. Channels are matched through their EPG ids
// first, then through their normalized name.
func (r *CatalogRepository) GetLiveItemsWithCurrentEpg(ctx context.Context, profileID string, limit int, nowKey string) ([]LiveNowItem, error) {
	if limit <= 0 {
		return []LiveNowItem{}, nil
	}

	channelIDs, err := r.queryStrings(ctx, `
		SELECT DISTINCT channel_id FROM epg_listings
		WHERE profile_id = ? AND substr(start, 1, 14) <= ? AND substr(end, 1, 14) >= ?
		ORDER BY RANDOM()
		LIMIT ?
	`, profileID, nowKey, nowKey, limit*6)
	if err != nil {
		return nil, fmt.Errorf("failed to get airing channels: %w", err)
	}
	if len(channelIDs) == 0 {
		return []LiveNowItem{}, nil
	}

	idArgs := stringArgs(channelIDs)
	direct, err := r.queryLiveItems(ctx, fmt.Sprintf(`
		SELECT %s FROM live_streams
		WHERE profile_id = ? AND %s AND (epg_channel_id IN (%s) OR epg_id IN (%s))
		ORDER BY RANDOM()
		LIMIT ?
	`, liveItemColumns, hasIconClause, placeholders(len(channelIDs)), placeholders(len(channelIDs))),
		append(append(append([]any{profileID}, idArgs...), idArgs...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get live items by epg id: %w", err)
	}

	seen := make(map[string]bool)
	results := make([]LiveNowItem, 0, limit)
	for _, item := range direct {
		seen[item.ID] = true
		results = append(results, LiveNowItem{CatalogItem: item, MatchedChannelID: item.EpgChannelID})
	}
	if len(results) >= limit {
		return results[:limit], nil
	}

	channels, err := r.GetEpgChannels(ctx, profileID)
	if err != nil {
		return nil, err
	}
	airing := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		airing[id] = true
	}
	byName := make(map[string]string)
	for _, ch := range channels {
		if !airing[ch.ChannelID] {
			continue
		}
		name := strings.TrimSpace(ch.NormalizedName)
		if _, ok := byName[name]; name != "" && !ok {
			byName[name] = ch.ChannelID
		}
	}
	for _, id := range channelIDs {
		name := alnumLower(id)
		if _, ok := byName[name]; name != "" && !ok {
			byName[name] = id
		}
	}
	if len(byName) == 0 {
		return results, nil
	}

	names := make([]any, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	byNameRows, err := r.queryLiveItems(ctx, fmt.Sprintf(`
		SELECT %s FROM live_streams
		WHERE profile_id = ? AND %s AND %s IN (%s)
		ORDER BY RANDOM()
		LIMIT ?
	`, liveItemColumns, hasIconClause, fmt.Sprintf(normalizeColumnSQL, "name"), placeholders(len(names))),
		append(append([]any{profileID}, names...), limit*2)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get live items by name: %w", err)
	}

	for _, item := range byNameRows {
		if len(results) >= limit {
			break
		}
		if seen[item.ID] {
			continue
		}
		matched, ok := byName[alnumLower(item.Title)]
		if !ok {
			continue
		}
		seen[item.ID] = true
		if item.EpgChannelID == "" {
			item.EpgChannelID = matched
		}
		results = append(results, LiveNowItem{CatalogItem: item, MatchedChannelID: matched})
	}

	return results, nil
}

func (r *CatalogRepository) queryLiveItems(ctx context.Context, query string, args ...any) ([]CatalogItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []CatalogItem{}
	for rows.Next() {
		item := CatalogItem{Type: ItemTypeLive}
		if err := rows.Scan(&item.ID, &item.Title, &item.Image, &item.CategoryID, &item.EpgChannelID); err != nil {
			return nil, fmt.Errorf("failed to scan live row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating live rows: %w", err)
	}

	return items, nil
}

func (r *CatalogRepository) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v != "" {
			values = append(values, v)
		}
	}
	return values, rows.Err()
}

// orderByIDs returns items in the order of ids, dropping ids with no row.
func orderByIDs(items []CatalogItem, ids []string) []CatalogItem {
	byID := make(map[string]CatalogItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	ordered := make([]CatalogItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches query as a literal substring; pair it with ESCAPE '\'.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
}

func alnumLower(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
