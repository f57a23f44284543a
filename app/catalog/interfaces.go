package catalog

import (
	"context"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/metrics"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

// PortalClient is the subset of xtream.Client the syncer fetches with.
type PortalClient interface {
	FetchLiveCategories(ctx context.Context, creds xtream.Credentials) ([]xtream.Category, error)
	FetchLiveStreams(ctx context.Context, creds xtream.Credentials, categoryID string) ([]xtream.LiveStream, error)
	FetchVodCategories(ctx context.Context, creds xtream.Credentials) ([]xtream.Category, error)
	FetchVodStreams(ctx context.Context, creds xtream.Credentials) ([]xtream.VodStream, error)
	FetchSeriesCategories(ctx context.Context, creds xtream.Credentials) ([]xtream.Category, error)
	FetchSeries(ctx context.Context, creds xtream.Credentials) ([]xtream.SeriesItem, error)
	FetchXmltvEpg(ctx context.Context, creds xtream.Credentials) (*xtream.XmltvPayload, error)
}

// DistributedLock guards a profile's catalog across processes. TryLock
// returns cache.ErrLocked when another holder owns key.
type DistributedLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type Recorder interface {
	ObserveSync(profileID string, duration time.Duration, err error)
	ObserveEpgRefresh(profileID string, refreshed bool, err error)
}

var (
	_ PortalClient = (*xtream.Client)(nil)
	_ Recorder     = (*metrics.Metrics)(nil)
)
