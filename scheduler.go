package conductor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// TimerSchedulerOptions configures a timer scheduler.
type TimerSchedulerOptions struct {
	Engine   *Engine
	Store    Store
	Settings *Settings
	Logger   *slog.Logger
}

// TimerScheduler polls the durable task registry and fires timer stimuli
// whose time has arrived. Many scheduler nodes may run against the same
// store: each task is claimed by one owner, owners prove liveness through
// periodic check-ins, and a task whose owner stops checking in is taken
// over after the misfire threshold. Firing is at-least-once; the resume
// path's bookmark burn makes duplicate fires harmless.
type TimerScheduler struct {
	engine   *Engine
	store    Store
	settings *Settings
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewTimerScheduler creates a timer scheduler.
func NewTimerScheduler(opts TimerSchedulerOptions) (*TimerScheduler, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Settings == nil {
		opts.Settings = DefaultSettings()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TimerScheduler{
		engine:   opts.Engine,
		store:    opts.Store,
		settings: opts.Settings,
		logger:   opts.Logger.With("node_id", opts.Settings.NodeID),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the polling loop in a background goroutine.
func (s *TimerScheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

// Stop halts the polling loop and waits for the in-flight tick to finish.
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TimerScheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.settings.SchedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick runs one scheduler cycle: check in as a live owner, claim every due
// task, and fire each claimed task.
func (s *TimerScheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	if err := s.store.Heartbeat(ctx, s.settings.NodeID, now); err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}

	staleBefore := now.Add(-s.settings.MisfireThreshold)
	tasks, err := s.store.ClaimDueTasks(ctx, s.settings.NodeID, now, staleBefore)
	if err != nil {
		return fmt.Errorf("failed to claim due tasks: %w", err)
	}

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.fireTask(ctx, task)
	}
	return nil
}

// fireTask delivers one due timer stimulus. The task is removed once its
// target bookmark was resumed or no longer exists; when the owning
// instance is busy on another node, the task is kept and retried on a
// later tick.
func (s *TimerScheduler) fireTask(ctx context.Context, task *ScheduledTask) {
	results, err := s.engine.ResumeHash(ctx, task.Hash, nil)
	if err != nil {
		s.logger.Error("failed to fire scheduled task",
			"task_id", task.ID, "hash", task.Hash, "error", err)
		return
	}

	retry := false
	for _, result := range results {
		if result.Outcome == ResumeOutcomeInProgress {
			retry = true
		}
	}
	if retry {
		s.logger.Debug("scheduled task deferred, instance busy", "task_id", task.ID)
		return
	}

	// Burning the bookmark already cascades task deletion in the store;
	// this covers the NotFound path and is idempotent otherwise.
	if err := s.store.DeleteTask(ctx, task.ID); err != nil {
		s.logger.Error("failed to delete fired task", "task_id", task.ID, "error", err)
	}
	s.logger.Debug("scheduled task fired", "task_id", task.ID, "results", len(results))
}
