package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/profile"
)

// DefaultEpgRefreshInterval applies when a profile sets none.
const DefaultEpgRefreshInterval = 24 * time.Hour

// RefreshEpgIfNeeded replaces the profile's EPG when it is older than the
// profile's refresh interval. It reports whether a refresh happened.
func (s *Syncer) RefreshEpgIfNeeded(ctx context.Context, p *profile.Profile) (bool, error) {
	return s.refreshEpg(ctx, p, false)
}

// RefreshEpg replaces the profile's EPG regardless of its age.
func (s *Syncer) RefreshEpg(ctx context.Context, p *profile.Profile) error {
	_, err := s.refreshEpg(ctx, p, true)
	return err
}

func (s *Syncer) refreshEpg(ctx context.Context, p *profile.Profile, force bool) (bool, error) {
	refreshed, err := s.doRefreshEpg(ctx, p, force)
	if s.metrics != nil {
		s.metrics.ObserveEpgRefresh(p.ID, refreshed, err)
	}
	return refreshed, err
}

func (s *Syncer) doRefreshEpg(ctx context.Context, p *profile.Profile, force bool) (bool, error) {
	if !force {
		fresh, err := s.epgIsFresh(ctx, p)
		if err != nil {
			return false, err
		}
		if fresh {
			slog.Debug("EPG is fresh, skipping refresh", "profile", p.ID)
			return false, nil
		}
	}

	// A full sync replaces the EPG itself
	if s.IsSyncing(p.ID) {
		slog.Debug("Sync in progress, skipping EPG refresh", "profile", p.ID)
		return false, nil
	}

	payload, err := s.client.FetchXmltvEpg(ctx, p.Credentials())
	if err != nil {
		return false, fmt.Errorf("failed to fetch epg: %w", err)
	}

	now := s.now()
	err = s.locks.WithLock(p.ID, func() error {
		if err := s.store.ClearEpgForProfile(ctx, p.ID); err != nil {
			return err
		}
		if err := s.store.StoreEpg(ctx, p.ID, payload); err != nil {
			return err
		}
		return s.store.SetCatalogMetaAt(ctx, p.ID, database.MetaEpgUpdatedAt, timestamp(now), now)
	})
	if err != nil {
		return false, err
	}

	slog.Info("EPG refreshed", "profile", p.ID, "channels", len(payload.Channels), "listings", len(payload.Listings))
	return true, nil
}

func (s *Syncer) epgIsFresh(ctx context.Context, p *profile.Profile) (bool, error) {
	meta, err := s.store.GetCatalogMeta(ctx, p.ID, database.MetaEpgUpdatedAt)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return false, nil
	}

	interval := p.EpgRefreshInterval()
	if interval <= 0 {
		interval = DefaultEpgRefreshInterval
	}

	age := s.now().Sub(time.UnixMilli(meta.UpdatedAt))
	return age < interval, nil
}

// IsCatalogStale reports whether the profile was never synced or its last
// sync is older than the profile's sync interval.
func (s *Syncer) IsCatalogStale(ctx context.Context, p *profile.Profile) (bool, error) {
	meta, err := s.store.GetCatalogMeta(ctx, p.ID, database.MetaCatalogUpdatedAt)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return true, nil
	}

	interval := p.SyncInterval()
	if interval <= 0 {
		return false, nil
	}
	return s.now().Sub(time.UnixMilli(meta.UpdatedAt)) >= interval, nil
}
