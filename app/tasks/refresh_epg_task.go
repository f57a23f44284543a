package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/xtream-catalog/app/profile"
)

type RefreshEpgTask struct {
	Task
	Profile *profile.Profile
	syncer  ProfileSyncer
}

func NewRefreshEpgTask(p *profile.Profile, syncer ProfileSyncer) *RefreshEpgTask {
	return &RefreshEpgTask{
		Task:    NewTask(TaskTypeRefreshEpg, p.ID),
		Profile: p,
		syncer:  syncer,
	}
}

func (t *RefreshEpgTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	refreshed, err := t.syncer.RefreshEpgIfNeeded(ctx, t.Profile)
	if err != nil {
		return fmt.Errorf("failed to refresh epg for profile %s: %w", t.ProfileID, err)
	}

	if refreshed {
		slog.Info("Task completed",
			"type", string(t.Type),
			"profile", t.ProfileID,
			"duration", t.GetDuration())
	}

	return nil
}
