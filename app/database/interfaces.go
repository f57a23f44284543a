package database

import (
	"context"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

type CatalogStore interface {
	ClearCatalogForProfile(ctx context.Context, profileID string) error
	ClearEpgForProfile(ctx context.Context, profileID string) error

	StoreCategories(ctx context.Context, profileID string, kind ItemType, categories []xtream.Category) error
	StoreLiveStreams(ctx context.Context, profileID string, streams []xtream.LiveStream) error
	StoreVodStreams(ctx context.Context, profileID string, streams []xtream.VodStream) error
	StoreSeries(ctx context.Context, profileID string, items []xtream.SeriesItem) error
	StoreEpg(ctx context.Context, profileID string, payload *xtream.XmltvPayload) error

	GetCatalogMeta(ctx context.Context, profileID, key string) (*CatalogMeta, error)
	SetCatalogMeta(ctx context.Context, profileID, key, value string) error
	SetCatalogMetaAt(ctx context.Context, profileID, key, value string, at time.Time) error
}

type EpgLookupStore interface {
	GetEpgChannels(ctx context.Context, profileID string) ([]EpgChannel, error)
	GetEpgChannelIDsByNormalizedNames(ctx context.Context, profileID string, names []string) (map[string]string, error)
	GetEpgChannelIDForNormalizedName(ctx context.Context, profileID, name string) (string, error)
	GetEpgChannelIDFromListings(ctx context.Context, profileID, name string) (string, error)
	GetEpgListingsForChannels(ctx context.Context, profileID string, channelIDs []string) ([]EpgListing, error)
}

type LibraryStore interface {
	AddFavorite(ctx context.Context, profileID string, itemType ItemType, itemID string) error
	RemoveFavorite(ctx context.Context, profileID string, itemType ItemType, itemID string) error
	IsFavorite(ctx context.Context, profileID string, itemType ItemType, itemID string) (bool, error)
	GetFavorites(ctx context.Context, profileID string, limit int) ([]LibraryEntry, error)

	AddRecentlyViewed(ctx context.Context, profileID string, itemType ItemType, itemID string) error
	GetRecentlyViewed(ctx context.Context, profileID string, limit int) ([]LibraryEntry, error)

	UpsertContinueWatching(ctx context.Context, profileID string, itemType ItemType, itemID string, position, duration float64) error
	RemoveContinueWatching(ctx context.Context, profileID string, itemType ItemType, itemID string) error
	GetContinueWatching(ctx context.Context, profileID string, limit int) ([]ContinueWatchingEntry, error)

	ClearLibraryForProfile(ctx context.Context, profileID string) error
}

type CacheStore interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, maxAge time.Duration, dst any) (bool, error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

var (
	_ CatalogStore   = (*CatalogRepository)(nil)
	_ EpgLookupStore = (*CatalogRepository)(nil)
	_ LibraryStore   = (*LibraryRepository)(nil)
	_ CacheStore     = (*CacheRepository)(nil)
)
