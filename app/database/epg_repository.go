package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

// maxBatchArgs bounds the number of bound parameters in one IN clause.
const maxBatchArgs = 500

// StoreEpg writes channels and listings in one transaction. Listings missing
// a channel, start or end are skipped.
func (r *CatalogRepository) StoreEpg(ctx context.Context, profileID string, payload *xtream.XmltvPayload) error {
	if payload == nil || (len(payload.Channels) == 0 && len(payload.Listings) == 0) {
		return nil
	}

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		channelStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO epg_channels (profile_id, channel_id, display_name, normalized_name)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare channel statement: %w", err)
		}
		defer channelStmt.Close()

		listingStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO epg_listings (profile_id, channel_id, start, end, title, description, category)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare listing statement: %w", err)
		}
		defer listingStmt.Close()

		for _, ch := range payload.Channels {
			if ch.ChannelID == "" {
				continue
			}
			if _, err := channelStmt.ExecContext(ctx, profileID, ch.ChannelID, ch.DisplayName, ch.NormalizedName); err != nil {
				return fmt.Errorf("failed to store channel %s: %w", ch.ChannelID, err)
			}
		}

		for _, l := range payload.Listings {
			if l.ChannelID == "" || l.Start == "" || l.End == "" {
				continue
			}
			_, err := listingStmt.ExecContext(ctx, profileID, l.ChannelID, l.Start, l.End, l.Title, l.Description, l.Category)
			if err != nil {
				return fmt.Errorf("failed to store listing for %s: %w", l.ChannelID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store epg: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetEpgChannels(ctx context.Context, profileID string) ([]EpgChannel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel_id, display_name, normalized_name
		FROM epg_channels
		WHERE profile_id = ?
		ORDER BY rowid
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get epg channels: %w", err)
	}
	defer rows.Close()

	channels := []EpgChannel{}
	for rows.Next() {
		var ch EpgChannel
		if err := rows.Scan(&ch.ChannelID, &ch.DisplayName, &ch.NormalizedName); err != nil {
			return nil, fmt.Errorf("failed to scan epg channel row: %w", err)
		}
		channels = append(channels, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epg channel rows: %w", err)
	}

	return channels, nil
}

// GetEpgChannelIDsByNormalizedNames maps each exactly matching normalized
// name to a channel id. When several channels share a name the last stored
// one wins.
func (r *CatalogRepository) GetEpgChannelIDsByNormalizedNames(ctx context.Context, profileID string, names []string) (map[string]string, error) {
	result := make(map[string]string)

	for start := 0; start < len(names); start += maxBatchArgs {
		batch := names[start:min(start+maxBatchArgs, len(names))]

		rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT channel_id, normalized_name FROM epg_channels
			WHERE profile_id = ? AND normalized_name IN (%s)
			ORDER BY rowid
		`, placeholders(len(batch))), append([]any{profileID}, stringArgs(batch)...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get epg channels by name: %w", err)
		}

		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan epg channel row: %w", err)
			}
			result[name] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating epg channel rows: %w", err)
		}
	}

	return result, nil
}

// GetEpgChannelIDForNormalizedName finds the channel whose normalized name
// equals, contains or is contained in name. The longest name wins.
func (r *CatalogRepository) GetEpgChannelIDForNormalizedName(ctx context.Context, profileID, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT channel_id FROM epg_channels
		WHERE profile_id = ?1
		  AND normalized_name <> ''
		  AND (normalized_name = ?2 OR instr(?2, normalized_name) > 0 OR instr(normalized_name, ?2) > 0)
		ORDER BY LENGTH(normalized_name) DESC, channel_id ASC
		LIMIT 1
	`, profileID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to match epg channel name: %w", err)
	}
	return id, nil
}

// GetEpgChannelIDFromListings applies the same containment match to the
// channel ids referenced by listings, normalized like NormalizeChannelID.
func (r *CatalogRepository) GetEpgChannelIDFromListings(ctx context.Context, profileID, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	var id string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT channel_id FROM (
			SELECT channel_id, %s AS normalized
			FROM epg_listings
			WHERE profile_id = ?1
			GROUP BY channel_id
		)
		WHERE normalized <> ''
		  AND (normalized = ?2 OR instr(?2, normalized) > 0 OR instr(normalized, ?2) > 0)
		ORDER BY LENGTH(normalized) DESC, channel_id ASC
		LIMIT 1
	`, fmt.Sprintf(normalizeColumnSQL, "channel_id")), profileID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to match epg listing channel: %w", err)
	}
	return id, nil
}

// GetEpgListingsForChannels returns listings of the given channels in the
// order they were stored.
func (r *CatalogRepository) GetEpgListingsForChannels(ctx context.Context, profileID string, channelIDs []string) ([]EpgListing, error) {
	listings := []EpgListing{}

	for start := 0; start < len(channelIDs); start += maxBatchArgs {
		batch := channelIDs[start:min(start+maxBatchArgs, len(channelIDs))]

		rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT channel_id, COALESCE(title, ''), COALESCE(description, ''), COALESCE(category, ''), start, end
			FROM epg_listings
			WHERE profile_id = ? AND channel_id IN (%s)
			ORDER BY rowid
		`, placeholders(len(batch))), append([]any{profileID}, stringArgs(batch)...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get epg listings: %w", err)
		}

		for rows.Next() {
			var l EpgListing
			if err := rows.Scan(&l.ChannelID, &l.Title, &l.Description, &l.Category, &l.Start, &l.End); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan epg listing row: %w", err)
			}
			listings = append(listings, l)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating epg listing rows: %w", err)
		}
	}

	return listings, nil
}
