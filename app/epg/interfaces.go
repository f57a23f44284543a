package epg

import (
	"context"

	"github.com/lysyi3m/xtream-catalog/app/database"
)

type Store interface {
	GetEpgChannels(ctx context.Context, profileID string) ([]database.EpgChannel, error)
	GetEpgChannelIDsByNormalizedNames(ctx context.Context, profileID string, names []string) (map[string]string, error)
	GetEpgChannelIDForNormalizedName(ctx context.Context, profileID, name string) (string, error)
	GetEpgChannelIDFromListings(ctx context.Context, profileID, name string) (string, error)
	GetEpgListingsForChannels(ctx context.Context, profileID string, channelIDs []string) ([]database.EpgListing, error)
}
