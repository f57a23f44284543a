package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/xtream-catalog/app/cache"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
	"golang.org/x/sync/errgroup"
)

// ErrSyncInProgress is returned when the profile is already being synced
// by this or another process.
var ErrSyncInProgress = errors.New("sync already in progress")

type Step string

const (
	StepCategories  Step = "categories"
	StepLiveStreams Step = "live_streams"
	StepVodStreams  Step = "vod_streams"
	StepSeries      Step = "series"
	StepEpg         Step = "epg"
)

const TotalSteps = 5

// syncLockTTL bounds how long a crashed process keeps other processes out.
const syncLockTTL = 30 * time.Minute

type Progress struct {
	Step    Step `json:"step"`
	Current int  `json:"current"`
	Total   int  `json:"total"`
}

type ProgressFunc func(Progress)

// SyncResult summarizes one completed sync.
type SyncResult struct {
	SyncID      string        `json:"sync_id"`
	ProfileID   string        `json:"profile_id"`
	Categories  int           `json:"categories"`
	LiveStreams int           `json:"live_streams"`
	VodStreams  int           `json:"vod_streams"`
	Series      int           `json:"series"`
	EpgChannels int           `json:"epg_channels"`
	EpgListings int           `json:"epg_listings"`
	Duration    time.Duration `json:"duration"`
}

type Options struct {
	Lock    DistributedLock
	Metrics Recorder
	Now     func() time.Time
}

// Syncer mirrors a portal's catalog into the store.
type Syncer struct {
	store   database.CatalogStore
	client  PortalClient
	locks   *Locks
	lock    DistributedLock
	metrics Recorder
	now     func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

func NewSyncer(store database.CatalogStore, client PortalClient, locks *Locks, opts Options) *Syncer {
	s := &Syncer{
		store:   store,
		client:  client,
		locks:   locks,
		lock:    opts.Lock,
		metrics: opts.Metrics,
		now:     opts.Now,
		running: make(map[string]bool),
	}
	if s.locks == nil {
		s.locks = NewLocks()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Syncer) Locks() *Locks {
	return s.locks
}

func (s *Syncer) IsSyncing(profileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[profileID]
}

// WithExclusive reserves the profile the way a sync does and runs fn under
// its write lock. It returns ErrSyncInProgress when a sync holds the profile,
// and syncs started while fn runs get the same error.
func (s *Syncer) WithExclusive(ctx context.Context, profileID string, fn func() error) error {
	release, err := s.acquire(ctx, profileID)
	if err != nil {
		return err
	}
	defer release()

	return s.locks.WithLock(profileID, fn)
}

// SyncProfile clears the profile's catalog and refills it from the portal in
// five steps. A failure part way leaves the catalog cleared and partly
// refilled; the next sync starts over.
func (s *Syncer) SyncProfile(ctx context.Context, p *profile.Profile, onProgress ProgressFunc) (*SyncResult, error) {
	start := s.now()

	release, err := s.acquire(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	slog.Info("Catalog sync started", "profile", p.ID, "host", p.Host)

	result, err := s.sync(ctx, p, onProgress)
	duration := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.ObserveSync(p.ID, duration, err)
	}
	if err != nil {
		slog.Error("Catalog sync failed", "profile", p.ID, "duration", duration, "error", err)
		return nil, err
	}

	result.Duration = duration
	slog.Info("Catalog sync completed",
		"profile", p.ID,
		"sync_id", result.SyncID,
		"live", result.LiveStreams,
		"vod", result.VodStreams,
		"series", result.Series,
		"epg_channels", result.EpgChannels,
		"epg_listings", result.EpgListings,
		"duration", duration)

	return result, nil
}

func (s *Syncer) acquire(ctx context.Context, profileID string) (func(), error) {
	s.mu.Lock()
	if s.running[profileID] {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.running[profileID] = true
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		delete(s.running, profileID)
		s.mu.Unlock()
	}

	if s.lock == nil {
		return done, nil
	}

	unlock, err := s.lock.TryLock(ctx, cache.SyncLockKey(profileID), syncLockTTL)
	if err != nil {
		done()
		if errors.Is(err, cache.ErrLocked) {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}

	return func() {
		unlock()
		done()
	}, nil
}

func (s *Syncer) sync(ctx context.Context, p *profile.Profile, onProgress ProgressFunc) (*SyncResult, error) {
	creds := p.Credentials()
	result := &SyncResult{SyncID: uuid.NewString(), ProfileID: p.ID}
	current := 0

	step := func(name Step) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		current++
		s.report(onProgress, p.ID, Progress{Step: name, Current: current, Total: TotalSteps})
		return nil
	}

	err := s.locks.WithLock(p.ID, func() error {
		return s.store.ClearCatalogForProfile(ctx, p.ID)
	})
	if err != nil {
		return nil, err
	}

	if err := step(StepCategories); err != nil {
		return nil, err
	}
	n, err := s.syncCategories(ctx, p.ID, creds)
	if err != nil {
		return nil, err
	}
	result.Categories = n

	if err := step(StepLiveStreams); err != nil {
		return nil, err
	}
	live, err := s.client.FetchLiveStreams(ctx, creds, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch live streams: %w", err)
	}
	if err := s.locks.WithLock(p.ID, func() error { return s.store.StoreLiveStreams(ctx, p.ID, live) }); err != nil {
		return nil, err
	}
	result.LiveStreams = len(live)

	if err := step(StepVodStreams); err != nil {
		return nil, err
	}
	vod, err := s.client.FetchVodStreams(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vod streams: %w", err)
	}
	if err := s.locks.WithLock(p.ID, func() error { return s.store.StoreVodStreams(ctx, p.ID, vod) }); err != nil {
		return nil, err
	}
	result.VodStreams = len(vod)

	if err := step(StepSeries); err != nil {
		return nil, err
	}
	series, err := s.client.FetchSeries(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series: %w", err)
	}
	if err := s.locks.WithLock(p.ID, func() error { return s.store.StoreSeries(ctx, p.ID, series) }); err != nil {
		return nil, err
	}
	result.Series = len(series)

	if err := step(StepEpg); err != nil {
		return nil, err
	}
	payload, err := s.client.FetchXmltvEpg(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch epg: %w", err)
	}

	now := s.now()
	err = s.locks.WithLock(p.ID, func() error {
		if err := s.store.StoreEpg(ctx, p.ID, payload); err != nil {
			return err
		}
		return s.stamp(ctx, p.ID, now, map[string]string{
			database.MetaCatalogUpdatedAt: timestamp(now),
			database.MetaEpgUpdatedAt:     timestamp(now),
			database.MetaLastSyncID:       result.SyncID,
		})
	})
	if err != nil {
		return nil, err
	}
	result.EpgChannels = len(payload.Channels)
	result.EpgListings = len(payload.Listings)

	return result, nil
}

// syncCategories fetches the three category kinds concurrently and stores
// them once all have arrived.
func (s *Syncer) syncCategories(ctx context.Context, profileID string, creds xtream.Credentials) (int, error) {
	var live, vod, series []xtream.Category

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if live, err = s.client.FetchLiveCategories(gctx, creds); err != nil {
			return fmt.Errorf("failed to fetch live categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if vod, err = s.client.FetchVodCategories(gctx, creds); err != nil {
			return fmt.Errorf("failed to fetch vod categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if series, err = s.client.FetchSeriesCategories(gctx, creds); err != nil {
			return fmt.Errorf("failed to fetch series categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	err := s.locks.WithLock(profileID, func() error {
		if err := s.store.StoreCategories(ctx, profileID, database.ItemTypeLive, live); err != nil {
			return err
		}
		if err := s.store.StoreCategories(ctx, profileID, database.ItemTypeVod, vod); err != nil {
			return err
		}
		return s.store.StoreCategories(ctx, profileID, database.ItemTypeSeries, series)
	})
	if err != nil {
		return 0, err
	}

	return len(live) + len(vod) + len(series), nil
}

func (s *Syncer) stamp(ctx context.Context, profileID string, at time.Time, values map[string]string) error {
	for key, value := range values {
		if err := s.store.SetCatalogMetaAt(ctx, profileID, key, value, at); err != nil {
			return err
		}
	}
	return nil
}

// report calls onProgress synchronously. A panicking callback is logged and
// does not stop the sync.
func (s *Syncer) report(onProgress ProgressFunc, profileID string, progress Progress) {
	slog.Debug("Catalog sync step", "profile", profileID, "step", string(progress.Step), "current", progress.Current, "total", progress.Total)

	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sync progress callback panicked", "profile", profileID, "step", string(progress.Step), "panic", r)
		}
	}()
	onProgress(progress)
}

func timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
