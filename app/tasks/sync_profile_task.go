package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/xtream-catalog/app/catalog"
	"github.com/lysyi3m/xtream-catalog/app/profile"
)

type SyncProfileTask struct {
	Task
	Profile *profile.Profile
	Result  *catalog.SyncResult
	syncer  ProfileSyncer
	events  EventPublisher
}

// NewSyncProfileTask builds a sync task that is never retried by the
// scheduler. A failed sync stays failed until it is triggered again.
func NewSyncProfileTask(p *profile.Profile, syncer ProfileSyncer, events EventPublisher) *SyncProfileTask {
	task := NewTask(TaskTypeSyncProfile, p.ID)
	task.MaxRetries = 0
	return &SyncProfileTask{
		Task:    task,
		Profile: p,
		syncer:  syncer,
		events:  events,
	}
}

func (t *SyncProfileTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.syncer.SyncProfile(ctx, t.Profile, func(progress catalog.Progress) {
		t.publish(catalog.Event{State: catalog.EventRunning, Progress: &progress})
	})
	if errors.Is(err, catalog.ErrSyncInProgress) {
		slog.Info("Sync already in progress, skipping", "profile", t.ProfileID, "id", t.ID)
		return nil
	}
	if err != nil {
		t.publish(catalog.Event{State: catalog.EventFailed, Error: err.Error()})
		return fmt.Errorf("failed to sync profile %s: %w", t.ProfileID, err)
	}

	t.Result = result
	t.publish(catalog.Event{State: catalog.EventCompleted})

	slog.Info("Task completed",
		"type", string(t.Type),
		"profile", t.ProfileID,
		"sync_id", result.SyncID,
		"duration", t.GetDuration())

	return nil
}

func (t *SyncProfileTask) publish(event catalog.Event) {
	if t.events == nil {
		return
	}
	event.ProfileID = t.ProfileID
	event.TaskID = t.ID
	t.events.Publish(event)
}
