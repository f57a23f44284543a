package tasks

import (
	"context"

	"github.com/lysyi3m/xtream-catalog/app/catalog"
	"github.com/lysyi3m/xtream-catalog/app/profile"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to run background syncs.
// Example usage:
//
//	scheduler := NewScheduler(registry, syncer, hub, metrics, config)
//	scheduler.Start()
//	defer scheduler.Stop()
//	taskID, err := scheduler.EnqueueSync(p)
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueSync(p *profile.Profile) (string, error)
}

type ProfileSyncer interface {
	SyncProfile(ctx context.Context, p *profile.Profile, onProgress catalog.ProgressFunc) (*catalog.SyncResult, error)
	RefreshEpgIfNeeded(ctx context.Context, p *profile.Profile) (bool, error)
	IsCatalogStale(ctx context.Context, p *profile.Profile) (bool, error)
}

type ProfileSource interface {
	GetProfiles() []*profile.Profile
	GetEnabledProfiles() []*profile.Profile
}

type EventPublisher interface {
	Publish(event catalog.Event)
}

type TaskRecorder interface {
	ObserveTask(taskType string, err error)
}

var (
	_ ProfileSyncer  = (*catalog.Syncer)(nil)
	_ ProfileSource  = (*profile.Registry)(nil)
	_ EventPublisher = (*catalog.Hub)(nil)
)
