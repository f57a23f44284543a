package api

import (
	"context"
	"encoding/json"

	"github.com/lysyi3m/xtream-catalog/app/cache"
	"github.com/lysyi3m/xtream-catalog/app/catalog"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/epg"
	"github.com/lysyi3m/xtream-catalog/app/metrics"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/tasks"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

type ProfileSource interface {
	GetProfile(id string) (*profile.Profile, error)
	GetProfiles() []*profile.Profile
	Count() int
}

// CatalogReader is the store surface the API reads and maintains.
type CatalogReader interface {
	ClearCatalogForProfile(ctx context.Context, profileID string) error
	CountProfileRows(ctx context.Context, profileID string) (*database.ProfileCounts, error)
	GetCatalogMeta(ctx context.Context, profileID, key string) (*database.CatalogMeta, error)

	GetCategories(ctx context.Context, profileID string, kind database.ItemType) ([]database.Category, error)

	GetLivePage(ctx context.Context, profileID string, limit, offset int, categoryID string, opts database.LivePageOptions) ([]database.CatalogItem, error)
	GetLiveItemsByIDs(ctx context.Context, profileID string, ids []string) ([]database.CatalogItem, error)
	SearchLiveStreams(ctx context.Context, profileID, query string, limit int) ([]database.CatalogItem, error)
	GetRecentLiveItems(ctx context.Context, profileID string, limit int, categoryID string) ([]database.CatalogItem, error)
	GetLiveChannelOffset(ctx context.Context, profileID, streamID string) (int, bool, error)
	GetLiveItemsWithCurrentEpg(ctx context.Context, profileID string, limit int, nowKey string) ([]database.LiveNowItem, error)
	GetPrimaryLiveCategoryID(ctx context.Context, profileID string) (string, error)

	GetVodPage(ctx context.Context, profileID string, limit, offset int, sort database.SortKey, categoryID string) ([]database.CatalogItem, error)
	GetVodItemsByIDs(ctx context.Context, profileID string, ids []string) ([]database.CatalogItem, error)
	GetVodSimilar(ctx context.Context, profileID, categoryID, excludeID string, limit int) ([]database.CatalogItem, error)
	SearchVodStreams(ctx context.Context, profileID, query string, limit int) ([]database.CatalogItem, error)
	GetVodInfo(ctx context.Context, profileID, vodID string) (json.RawMessage, error)
	StoreVodInfo(ctx context.Context, profileID, vodID string, info json.RawMessage) error

	GetSeriesPage(ctx context.Context, profileID string, limit, offset int, sort database.SortKey, categoryID string) ([]database.CatalogItem, error)
	GetSeriesItemsByIDs(ctx context.Context, profileID string, ids []string) ([]database.CatalogItem, error)
	GetSeriesSimilar(ctx context.Context, profileID, categoryID, excludeID string, limit int) ([]database.CatalogItem, error)
	SearchSeriesItems(ctx context.Context, profileID, query string, limit int) ([]database.CatalogItem, error)
	GetSeriesInfo(ctx context.Context, profileID, seriesID string) (json.RawMessage, error)
	StoreSeriesInfo(ctx context.Context, profileID, seriesID string, info json.RawMessage) error
}

type PortalClient interface {
	VerifyCredentials(ctx context.Context, creds xtream.Credentials) (bool, error)
	FetchAccountInfo(ctx context.Context, creds xtream.Credentials) (*xtream.AuthResponse, error)
	FetchVodInfo(ctx context.Context, creds xtream.Credentials, vodID string) (json.RawMessage, error)
	FetchSeriesInfo(ctx context.Context, creds xtream.Credentials, seriesID string) (json.RawMessage, error)
}

type SyncRunner interface {
	SyncProfile(ctx context.Context, p *profile.Profile, onProgress catalog.ProgressFunc) (*catalog.SyncResult, error)
	RefreshEpgIfNeeded(ctx context.Context, p *profile.Profile) (bool, error)
	RefreshEpg(ctx context.Context, p *profile.Profile) error
	IsSyncing(profileID string) bool
	WithExclusive(ctx context.Context, profileID string, fn func() error) error
	Locks() *catalog.Locks
}

type LiveResolver interface {
	Resolve(ctx context.Context, profileID string, items []epg.Item) ([]epg.Item, epg.ResolveReport, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

var (
	_ ProfileSource = (*profile.Registry)(nil)
	_ CatalogReader = (*database.CatalogRepository)(nil)
	_ PortalClient  = (*xtream.Client)(nil)
	_ SyncRunner    = (*catalog.Syncer)(nil)
	_ LiveResolver  = (*epg.Resolver)(nil)
)

// Dependencies wires a Handler. Redis and Metrics may be nil.
type Dependencies struct {
	Profiles  ProfileSource
	Catalog   CatalogReader
	Library   database.LibraryStore
	Cache     database.CacheStore
	Client    PortalClient
	Syncer    SyncRunner
	Resolver  LiveResolver
	Scheduler tasks.TaskSchedulerInterface
	Hub       *catalog.Hub
	Metrics   *metrics.Metrics
	DB        Pinger
	Redis     *cache.Cache
	Version   string
}

type Handler struct {
	profiles  ProfileSource
	catalog   CatalogReader
	library   database.LibraryStore
	cache     database.CacheStore
	client    PortalClient
	syncer    SyncRunner
	resolver  LiveResolver
	scheduler tasks.TaskSchedulerInterface
	hub       *catalog.Hub
	metrics   *metrics.Metrics
	db        Pinger
	redis     *cache.Cache
	version   string
}

type continueWatchingRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type libraryItem struct {
	database.CatalogItem
	UpdatedAt int64 `json:"updated_at"`
}

type continueWatchingItem struct {
	libraryItem
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}
