package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/profile"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var (
	ErrQueueFull     = errors.New("task queue is full")
	ErrAlreadyQueued = errors.New("task already queued")
)

const DefaultQueueSize = 300

type SchedulerConfig struct {
	WorkerCount int
	Interval    time.Duration
	TaskTimeout time.Duration
	QueueSize   int
	// RetryDelay is the first retry delay; later retries double it up to 30s.
	RetryDelay time.Duration
}

type Scheduler struct {
	profiles    ProfileSource
	syncer      ProfileSyncer
	events      EventPublisher
	recorder    TaskRecorder
	interval    time.Duration
	taskTimeout time.Duration
	retryDelay  time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu      sync.Mutex
	pending map[string]bool
}

func NewScheduler(profiles ProfileSource, syncer ProfileSyncer, events EventPublisher, recorder TaskRecorder, config SchedulerConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 15 * time.Minute
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	return &Scheduler{
		profiles:    profiles,
		syncer:      syncer,
		events:      events,
		recorder:    recorder,
		interval:    config.Interval,
		taskTimeout: config.TaskTimeout,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, config.QueueSize),
		pending:     make(map[string]bool),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()

}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// EnqueueTask queues task unless the same kind of task for the same
// profile is already queued or running.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	key := taskKey(task)

	s.mu.Lock()
	if s.pending[key] {
		s.mu.Unlock()
		return ErrAlreadyQueued
	}
	s.pending[key] = true
	s.mu.Unlock()

	if err := s.push(task); err != nil {
		s.release(task)
		return err
	}
	return nil
}

// EnqueueSync queues a full sync of p and returns the task id.
func (s *Scheduler) EnqueueSync(p *profile.Profile) (string, error) {
	task := NewSyncProfileTask(p, s.syncer, s.events)
	if err := s.EnqueueTask(task); err != nil {
		return "", err
	}
	return task.GetID(), nil
}

func (s *Scheduler) QueueLength() int {
	return len(s.taskQueue)
}

func (s *Scheduler) push(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) release(task TaskInterface) {
	s.mu.Lock()
	delete(s.pending, taskKey(task))
	s.mu.Unlock()
}

func (s *Scheduler) enqueueStartupTasks() {
	profiles := s.profiles.GetEnabledProfiles()
	if len(profiles) == 0 {
		slog.Debug("No enabled profiles found")
		return
	}

	slog.Debug("Checking profiles for initial sync", "count", len(profiles))

	for _, p := range profiles {
		s.enqueueSyncIfStale(p)
	}
}

func (s *Scheduler) enqueueTasks() {
	profiles := s.profiles.GetEnabledProfiles()
	if len(profiles) == 0 {
		slog.Debug("No enabled profiles found")
		return
	}

	slog.Debug("Processing enabled profiles for task scheduling", "count", len(profiles))

	for _, p := range profiles {
		if s.enqueueSyncIfStale(p) {
			continue
		}

		refreshTask := NewRefreshEpgTask(p, s.syncer)
		if err := s.EnqueueTask(refreshTask); err != nil && !errors.Is(err, ErrAlreadyQueued) {
			slog.Warn("Failed to enqueue RefreshEpgTask", "profile", p.ID, "error", err)
		}
	}
}

// enqueueSyncIfStale reports whether a sync of p is queued after the call.
func (s *Scheduler) enqueueSyncIfStale(p *profile.Profile) bool {
	stale, err := s.syncer.IsCatalogStale(s.ctx, p)
	if err != nil {
		slog.Warn("Failed to check catalog freshness, skipping", "profile", p.ID, "error", err)
		return false
	}
	if !stale {
		slog.Debug("Profile not due for sync yet", "profile", p.ID)
		return false
	}

	syncTask := NewSyncProfileTask(p, s.syncer, s.events)
	err = s.EnqueueTask(syncTask)
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		return true
	case err != nil:
		slog.Warn("Failed to enqueue SyncProfileTask", "profile", p.ID, "error", err)
		return false
	}
	return true
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if s.recorder != nil {
		s.recorder.ObserveTask(string(task.GetType()), err)
	}

	if err == nil {
		s.release(task)
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() || s.ctx.Err() != nil {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		s.release(task)
		return
	}

	task.IncrementRetryCount()
	retryDelay := s.retryDelay * time.Duration(1<<uint(task.GetRetryCount()-1))
	if retryDelay > 30*time.Second {
		retryDelay = 30 * time.Second
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "profile", task.GetProfileID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(retryDelay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			s.release(task)
		case <-timer.C:
			if retryErr := s.push(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
				s.release(task)
			}
		}
	}()
}
