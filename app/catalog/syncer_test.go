package catalog

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/xtream-catalog/app/cache"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/epg"
)

type snapshot struct {
	counts     *database.ProfileCounts
	live       []database.CatalogItem
	categories []database.Category
	channels   []database.EpgChannel
}

func takeSnapshot(t *testing.T, repo *database.CatalogRepository, profileID string) snapshot {
	t.Helper()
	ctx := context.Background()

	counts, err := repo.CountProfileRows(ctx, profileID)
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	live, err := repo.GetLivePage(ctx, profileID, 100, 0, "", database.LivePageOptions{IncludeMissingIcons: true})
	if err != nil {
		t.Fatalf("Failed to get live page: %v", err)
	}
	categories, err := repo.GetLiveCategories(ctx, profileID)
	if err != nil {
		t.Fatalf("Failed to get categories: %v", err)
	}
	channels, err := repo.GetEpgChannels(ctx, profileID)
	if err != nil {
		t.Fatalf("Failed to get epg channels: %v", err)
	}
	return snapshot{counts: counts, live: live, categories: categories, channels: channels}
}

func TestSyncProfile(t *testing.T) {
	ctx := context.Background()
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})
	p := portal.profile("home")

	var steps []Progress
	result, err := syncer.SyncProfile(ctx, p, func(progress Progress) {
		steps = append(steps, progress)
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expected := []Step{StepCategories, StepLiveStreams, StepVodStreams, StepSeries, StepEpg}
	if len(steps) != len(expected) {
		t.Fatalf("Expected %d progress reports, got %d", len(expected), len(steps))
	}
	for i, step := range steps {
		if step.Step != expected[i] || step.Current != i+1 || step.Total != TotalSteps {
			t.Errorf("Unexpected progress %d: %+v", i, step)
		}
	}

	if result.LiveStreams != 2 || result.VodStreams != 1 || result.Series != 1 {
		t.Errorf("Unexpected result counts: %+v", result)
	}
	if result.Categories != 4 || result.EpgChannels != 2 || result.EpgListings != 1 {
		t.Errorf("Unexpected result counts: %+v", result)
	}
	if _, err := uuid.Parse(result.SyncID); err != nil {
		t.Errorf("Expected sync id to be a uuid, got '%s'", result.SyncID)
	}

	counts, err := repo.CountProfileRows(ctx, "home")
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if counts.LiveStreams != 2 || counts.VodStreams != 1 || counts.Series != 1 || counts.EpgListings != 1 {
		t.Errorf("Unexpected stored counts: %+v", counts)
	}

	for _, key := range []string{database.MetaCatalogUpdatedAt, database.MetaEpgUpdatedAt} {
		meta, err := repo.GetCatalogMeta(ctx, "home", key)
		if err != nil || meta == nil {
			t.Fatalf("Expected meta %s to be set, got %v (%v)", key, meta, err)
		}
	}
	meta, _ := repo.GetCatalogMeta(ctx, "home", database.MetaLastSyncID)
	if meta == nil || meta.Value != result.SyncID {
		t.Errorf("Expected last sync id '%s', got %v", result.SyncID, meta)
	}

	// Categories are fetched concurrently, one request per kind
	for _, action := range []string{"get_live_categories", "get_vod_categories", "get_series_categories", "xmltv"} {
		if portal.count(action) != 1 {
			t.Errorf("Expected 1 %s request, got %d", action, portal.count(action))
		}
	}
}

func TestSyncProfileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})
	p := portal.profile("home")

	if _, err := syncer.SyncProfile(ctx, p, nil); err != nil {
		t.Fatalf("First sync failed: %v", err)
	}
	first := takeSnapshot(t, repo, "home")

	if _, err := syncer.SyncProfile(ctx, p, nil); err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	second := takeSnapshot(t, repo, "home")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical snapshots, got:\n%+v\n%+v", first, second)
	}
}

func TestSyncProfileSurvivesPanickingCallback(t *testing.T) {
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})

	calls := 0
	_, err := syncer.SyncProfile(context.Background(), portal.profile("home"), func(Progress) {
		calls++
		panic("listener exploded")
	})
	if err != nil {
		t.Fatalf("Expected sync to succeed, got: %v", err)
	}
	if calls != TotalSteps {
		t.Errorf("Expected callback to be called %d times, got %d", TotalSteps, calls)
	}
}

func TestSyncProfileFetchError(t *testing.T) {
	portal := newFakePortal(t)
	portal.failWith("get_vod_categories", 500)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})

	_, err := syncer.SyncProfile(context.Background(), portal.profile("home"), nil)
	if err == nil {
		t.Fatal("Expected error for failing category fetch")
	}
	if !strings.Contains(err.Error(), "HTTP error: 500") {
		t.Errorf("Expected HTTP error in message, got: %v", err)
	}
	if portal.count("get_live_streams") != 0 {
		t.Error("Expected sync to stop before fetching live streams")
	}
	if syncer.IsSyncing("home") {
		t.Error("Expected profile to be released after failure")
	}
}

func TestSyncProfileFailureKeepsOtherProfiles(t *testing.T) {
	ctx := context.Background()
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})

	for _, id := range []string{"a", "b"} {
		if _, err := syncer.SyncProfile(ctx, portal.profile(id), nil); err != nil {
			t.Fatalf("Sync of %s failed: %v", id, err)
		}
	}
	before := takeSnapshot(t, repo, "b")

	portal.failWith("get_vod_streams", 503)
	if _, err := syncer.SyncProfile(ctx, portal.profile("a"), nil); err == nil {
		t.Fatal("Expected sync of a to fail")
	}

	// a was cleared and refilled up to the failing step
	counts, _ := repo.CountProfileRows(ctx, "a")
	if counts.LiveStreams != 2 || counts.VodStreams != 0 || counts.EpgChannels != 0 {
		t.Errorf("Unexpected partial catalog for a: %+v", counts)
	}

	if after := takeSnapshot(t, repo, "b"); !reflect.DeepEqual(before, after) {
		t.Errorf("Expected profile b to be untouched")
	}
}

func TestSyncProfileCancelled(t *testing.T) {
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := syncer.SyncProfile(ctx, portal.profile("home"), func(p Progress) {
		if p.Step == StepLiveStreams {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if portal.count("get_vod_streams") != 0 || portal.count("xmltv") != 0 {
		t.Error("Expected no fetches after cancellation")
	}
}

func TestSyncProfileRejectsConcurrentSync(t *testing.T) {
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})
	p := portal.profile("home")

	var nested error
	_, err := syncer.SyncProfile(context.Background(), p, func(progress Progress) {
		if progress.Step == StepCategories {
			_, nested = syncer.SyncProfile(context.Background(), p, nil)
		}
	})
	if err != nil {
		t.Fatalf("Expected outer sync to succeed, got: %v", err)
	}
	if !errors.Is(nested, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got: %v", nested)
	}
}

func TestWithExclusiveExcludesSync(t *testing.T) {
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})
	p := portal.profile("home")

	// A sync started while the profile is reserved is rejected
	var nested error
	err := syncer.WithExclusive(context.Background(), p.ID, func() error {
		if !syncer.IsSyncing(p.ID) {
			t.Error("Expected profile to be reserved")
		}
		_, nested = syncer.SyncProfile(context.Background(), p, nil)
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !errors.Is(nested, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got: %v", nested)
	}
	if syncer.IsSyncing(p.ID) {
		t.Error("Expected reservation to be released")
	}

	// A reservation attempted during a sync is rejected without running fn
	var exclusive error
	ran := false
	_, err = syncer.SyncProfile(context.Background(), p, func(progress Progress) {
		if progress.Step == StepCategories {
			exclusive = syncer.WithExclusive(context.Background(), p.ID, func() error {
				ran = true
				return nil
			})
		}
	})
	if err != nil {
		t.Fatalf("Expected sync to succeed, got: %v", err)
	}
	if !errors.Is(exclusive, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got: %v", exclusive)
	}
	if ran {
		t.Error("Expected fn not to run during a sync")
	}

	// Errors from fn are returned as is
	failure := errors.New("clear failed")
	if err := syncer.WithExclusive(context.Background(), p.ID, func() error { return failure }); !errors.Is(err, failure) {
		t.Errorf("Expected fn error, got: %v", err)
	}
}

type mockLock struct {
	err      error
	keys     []string
	released int
}

func (m *mockLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.keys = append(m.keys, key)
	if m.err != nil {
		return nil, m.err
	}
	return func() { m.released++ }, nil
}

func TestSyncProfileDistributedLock(t *testing.T) {
	portal := newFakePortal(t)
	repo := newTestRepo(t)

	held := &mockLock{err: cache.ErrLocked}
	syncer := NewSyncer(repo, newTestClient(), nil, Options{Lock: held})
	if _, err := syncer.SyncProfile(context.Background(), portal.profile("home"), nil); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got: %v", err)
	}
	if portal.count("get_live_categories") != 0 {
		t.Error("Expected no portal requests while locked elsewhere")
	}
	if syncer.IsSyncing("home") {
		t.Error("Expected profile to be released")
	}

	free := &mockLock{}
	syncer = NewSyncer(repo, newTestClient(), nil, Options{Lock: free})
	if _, err := syncer.SyncProfile(context.Background(), portal.profile("home"), nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(free.keys) != 1 || free.keys[0] != cache.SyncLockKey("home") {
		t.Errorf("Unexpected lock keys: %v", free.keys)
	}
	if free.released != 1 {
		t.Errorf("Expected lock to be released once, got %d", free.released)
	}
}

type mockRecorder struct {
	syncs     []error
	refreshes []bool
}

func (m *mockRecorder) ObserveSync(profileID string, duration time.Duration, err error) {
	m.syncs = append(m.syncs, err)
}

func (m *mockRecorder) ObserveEpgRefresh(profileID string, refreshed bool, err error) {
	m.refreshes = append(m.refreshes, refreshed)
}

func TestSyncProfileRecordsMetrics(t *testing.T) {
	portal := newFakePortal(t)
	recorder := &mockRecorder{}
	syncer := NewSyncer(newTestRepo(t), newTestClient(), nil, Options{Metrics: recorder})

	syncer.SyncProfile(context.Background(), portal.profile("home"), nil)
	portal.failWith("get_series", 500)
	syncer.SyncProfile(context.Background(), portal.profile("home"), nil)

	if len(recorder.syncs) != 2 || recorder.syncs[0] != nil || recorder.syncs[1] == nil {
		t.Errorf("Unexpected recorded syncs: %v", recorder.syncs)
	}
}

func TestSyncedCatalogResolvesAbbreviatedEpgName(t *testing.T) {
	ctx := context.Background()
	portal := newFakePortal(t)
	repo := newTestRepo(t)
	syncer := NewSyncer(repo, newTestClient(), nil, Options{})
	p := portal.profile("home")

	if _, err := syncer.SyncProfile(ctx, p, nil); err != nil {
		t.Fatalf("Failed to sync profile: %v", err)
	}

	live, err := repo.GetLivePage(ctx, p.ID, 100, 0, "", database.LivePageOptions{IncludeMissingIcons: true})
	if err != nil {
		t.Fatalf("Failed to get live page: %v", err)
	}

	tests := []struct {
		name          string
		abbreviations bool
		expected      map[string]string
	}{
		{"abbreviations enabled", true, map[string]string{"101": "espn.us", "102": "cnn.intl"}},
		{"abbreviations disabled", false, map[string]string{"101": "espn.us", "102": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := epg.NewResolver(repo, epg.Options{Abbreviations: tt.abbreviations})
			items, err := resolver.ApplyLiveEpg(ctx, p.ID, epg.ItemsFromCatalog(live))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(items) != len(tt.expected) {
				t.Fatalf("Expected %d items, got %d", len(tt.expected), len(items))
			}
			for _, item := range items {
				if item.EpgChannelID != tt.expected[item.ID] {
					t.Errorf("Item %s (%s): expected epg channel '%s', got '%s'", item.ID, item.Title, tt.expected[item.ID], item.EpgChannelID)
				}
			}
		})
	}
}
