package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// timerGate suspends on a bookmark whose scheduled fire time is now plus
// the node's "delay" property.
type timerGate struct{}

func (a *timerGate) Type() string { return "timer" }

func (a *timerGate) Execute(ctx context.Context, run *ActivityContext) error {
	delay, _ := run.Property("delay")
	duration, _ := delay.(time.Duration)
	fireAt := time.Now().UTC().Add(duration)
	return run.CreateBookmark(BookmarkSpec{
		Name:        "tick",
		ResumePoint: "elapsed",
		FireAt:      &fireAt,
	})
}

func (a *timerGate) Resume(ctx context.Context, run *ActivityContext) error {
	run.Complete()
	return nil
}

func timerDefinition(t *testing.T, delay time.Duration) *Definition {
	t.Helper()
	def, err := NewDefinition(Options{
		ID: "timer-test",
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"sleep"}},
			{ID: "sleep", Type: "timer", Properties: map[string]any{"delay": delay}},
		},
	})
	require.NoError(t, err)
	return def
}

func newTestScheduler(t *testing.T, engine *Engine, store Store, settings *Settings) *TimerScheduler {
	t.Helper()
	scheduler, err := NewTimerScheduler(TimerSchedulerOptions{
		Engine:   engine,
		Store:    store,
		Settings: settings,
	})
	require.NoError(t, err)
	return scheduler
}

func TestSchedulerFiresDueTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, &timerGate{})
	require.NoError(t, engine.RegisterDefinition(timerDefinition(t, -time.Second)))

	instance, err := engine.StartInstance(ctx, StartOptions{DefinitionID: "timer-test"})
	require.NoError(t, err)
	require.Equal(t, InstanceStatusSuspended, instance.Status)

	scheduler := newTestScheduler(t, engine, store, DefaultSettings())
	require.NoError(t, scheduler.Tick(ctx))

	loaded, err := engine.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, InstanceStatusFinished, loaded.Status)

	// The fired task is gone: nothing remains for another owner to claim.
	remaining, err := store.ClaimDueTasks(ctx, "other", time.Now().Add(time.Hour), time.Now())
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestSchedulerLeavesFutureTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, &timerGate{})
	require.NoError(t, engine.RegisterDefinition(timerDefinition(t, time.Hour)))

	instance, err := engine.StartInstance(ctx, StartOptions{DefinitionID: "timer-test"})
	require.NoError(t, err)

	scheduler := newTestScheduler(t, engine, store, DefaultSettings())
	require.NoError(t, scheduler.Tick(ctx))

	loaded, err := engine.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, InstanceStatusSuspended, loaded.Status)
}

func TestSchedulerDuplicateTickHarmless(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, &timerGate{})
	require.NoError(t, engine.RegisterDefinition(timerDefinition(t, -time.Second)))

	instance, err := engine.StartInstance(ctx, StartOptions{DefinitionID: "timer-test"})
	require.NoError(t, err)

	scheduler := newTestScheduler(t, engine, store, DefaultSettings())
	require.NoError(t, scheduler.Tick(ctx))
	require.NoError(t, scheduler.Tick(ctx))

	loaded, err := engine.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, InstanceStatusFinished, loaded.Status)
}

func TestSchedulerTakesOverStaleOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, &timerGate{})
	require.NoError(t, engine.RegisterDefinition(timerDefinition(t, -time.Second)))

	instance, err := engine.StartInstance(ctx, StartOptions{DefinitionID: "timer-test"})
	require.NoError(t, err)

	// Another scheduler node claims the task and then goes silent.
	claimed, err := store.ClaimDueTasks(ctx, "dead-node", time.Now().UTC(), time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	settings := DefaultSettings()
	settings.MisfireThreshold = time.Millisecond
	scheduler := newTestScheduler(t, engine, store, settings)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, scheduler.Tick(ctx))

	loaded, err := engine.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, InstanceStatusFinished, loaded.Status)
}

func TestSchedulerStartStop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, &timerGate{})
	require.NoError(t, engine.RegisterDefinition(timerDefinition(t, -time.Second)))

	instance, err := engine.StartInstance(ctx, StartOptions{DefinitionID: "timer-test"})
	require.NoError(t, err)

	settings := DefaultSettings()
	settings.SchedulerInterval = 5 * time.Millisecond
	scheduler := newTestScheduler(t, engine, store, settings)
	scheduler.Start(ctx)
	defer scheduler.Stop(context.Background())

	require.Eventually(t, func() bool {
		loaded, err := engine.GetInstance(ctx, instance.ID)
		return err == nil && loaded.Status == InstanceStatusFinished
	}, 2*time.Second, 10*time.Millisecond)
}
