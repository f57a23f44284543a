package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

func (r *CatalogRepository) GetVodInfo(ctx context.Context, profileID, vodID string) (json.RawMessage, error) {
	return r.getInfo(ctx, "vod_info", "vod_id", profileID, vodID)
}

func (r *CatalogRepository) StoreVodInfo(ctx context.Context, profileID, vodID string, info json.RawMessage) error {
	return r.storeInfo(ctx, "vod_info", "vod_id", profileID, vodID, info)
}

func (r *CatalogRepository) GetSeriesInfo(ctx context.Context, profileID, seriesID string) (json.RawMessage, error) {
	return r.getInfo(ctx, "series_info", "series_id", profileID, seriesID)
}

func (r *CatalogRepository) StoreSeriesInfo(ctx context.Context, profileID, seriesID string, info json.RawMessage) error {
	return r.storeInfo(ctx, "series_info", "series_id", profileID, seriesID, info)
}

// getInfo returns nil on a miss and on a blob that is not valid JSON.
func (r *CatalogRepository) getInfo(ctx context.Context, table, idColumn, profileID, id string) (json.RawMessage, error) {
	var info string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT info FROM %s WHERE profile_id = ? AND %s = ?", table, idColumn),
		profileID, id).Scan(&info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", table, err)
	}

	if !json.Valid([]byte(info)) {
		slog.Warn("Ignoring corrupt detail payload", "table", table, "profile", profileID, "id", id)
		return nil, nil
	}
	return json.RawMessage(info), nil
}

func (r *CatalogRepository) storeInfo(ctx context.Context, table, idColumn, profileID, id string, info json.RawMessage) error {
	if !json.Valid(info) {
		return fmt.Errorf("failed to store %s: payload is not valid JSON", table)
	}

	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (profile_id, %s, info, updated_at) VALUES (?, ?, ?, ?)", table, idColumn),
		profileID, id, string(info), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", table, err)
	}
	return nil
}
