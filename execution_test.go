package conductor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// traceActivity records the state keys it executes under and completes.
type traceActivity struct {
	typeName string
	executed *[]string
}

func (a *traceActivity) Type() string { return a.typeName }

func (a *traceActivity) Execute(ctx context.Context, run *ActivityContext) error {
	*a.executed = append(*a.executed, run.State().Key)
	run.CompleteWith(OutcomeDone, map[string]any{"key": run.State().Key})
	return nil
}

// gateActivity suspends on a named bookmark and completes with the
// delivered input when resumed.
type gateActivity struct{}

func (a *gateActivity) Type() string { return "gate" }

func (a *gateActivity) Execute(ctx context.Context, run *ActivityContext) error {
	name, _ := run.Property("name")
	nameString, _ := name.(string)
	if nameString == "" {
		nameString = "gate"
	}
	return run.CreateBookmark(BookmarkSpec{Name: nameString, ResumePoint: "opened"})
}

func (a *gateActivity) Resume(ctx context.Context, run *ActivityContext) error {
	run.CompleteWith(OutcomeDone, run.Input())
	return nil
}

// brokenActivity always faults.
type brokenActivity struct{}

func (a *brokenActivity) Type() string { return "broken" }

func (a *brokenActivity) Execute(ctx context.Context, run *ActivityContext) error {
	return NewFaultError(FaultTypeActivity, "broken on purpose")
}

// detachedActivity schedules its first child but never observes completion,
// which stalls the instance.
type detachedActivity struct{}

func (a *detachedActivity) Type() string { return "detached" }

func (a *detachedActivity) Execute(ctx context.Context, run *ActivityContext) error {
	return run.ScheduleChild(run.Children()[0])
}

func testRegistry(t *testing.T, extra ...Activity) *Registry {
	t.Helper()
	registry, err := NewRegistry(CoreActivities()...)
	require.NoError(t, err)
	require.NoError(t, registry.Register(extra...))
	return registry
}

func runBurst(t *testing.T, def *Definition, registry *Registry) (*Instance, *BurstResult) {
	t.Helper()
	instance := NewInstance(def, "")
	execution, err := NewExecution(ExecutionOptions{
		Definition: def,
		Instance:   instance,
		Registry:   registry,
	})
	require.NoError(t, err)
	execution.ScheduleRoot()
	result, err := execution.RunBurst(context.Background())
	require.NoError(t, err)
	return instance, result
}

func resumeBurst(t *testing.T, def *Definition, registry *Registry, instance *Instance, outstanding []*Bookmark, bookmark *Bookmark, input map[string]any) *BurstResult {
	t.Helper()
	execution, err := NewExecution(ExecutionOptions{
		Definition: def,
		Instance:   instance,
		Registry:   registry,
		Bookmarks:  outstanding,
	})
	require.NoError(t, err)
	require.NoError(t, execution.ScheduleResume(bookmark, input))
	result, err := execution.RunBurst(context.Background())
	require.NoError(t, err)
	return result
}

func TestSequenceExecutionOrder(t *testing.T) {
	var executed []string
	registry := testRegistry(t, &traceActivity{typeName: "trace", executed: &executed})

	def, err := NewDefinition(Options{
		ID: "seq-test",
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"a", "b", "c"}},
			{ID: "a", Type: "trace"},
			{ID: "b", Type: "trace"},
			{ID: "c", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, result := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, []string{"a", "b", "c"}, executed)
	require.Empty(t, result.CreateBookmarks)
	require.Equal(t, ActivityStatusCompleted, instance.Nodes["main"].Status)
	// The sequence carries the last child's outcome and output.
	require.Equal(t, OutcomeDone, instance.Nodes["main"].Outcome)
	require.Equal(t, "c", instance.Nodes["main"].Output["key"])
}

func TestImplicitCompletion(t *testing.T) {
	registry := testRegistry(t)
	require.NoError(t, registry.Register(activityFunc("noop", func(ctx context.Context, run *ActivityContext) error {
		return nil
	})))

	def, err := NewDefinition(Options{
		ID:    "noop-test",
		Nodes: []*Node{{ID: "main", Type: "noop"}},
	})
	require.NoError(t, err)

	instance, _ := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, OutcomeDone, instance.Nodes["main"].Outcome)
}

func TestSuspendAndResume(t *testing.T) {
	registry := testRegistry(t, &gateActivity{})
	def, err := NewDefinition(Options{
		ID: "gate-test",
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"wait"}},
			{ID: "wait", Type: "gate", Properties: map[string]any{"name": "approval"}},
		},
	})
	require.NoError(t, err)

	instance, result := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusSuspended, instance.Status)
	require.Len(t, result.CreateBookmarks, 1)

	bookmark := result.CreateBookmarks[0]
	require.Equal(t, "wait", bookmark.NodeKey)
	require.Equal(t, "approval", bookmark.Name)
	require.True(t, bookmark.AutoBurn)
	require.Equal(t, "opened", instance.Nodes["wait"].ResumePoint)

	resumeResult := resumeBurst(t, def, registry, instance, []*Bookmark{bookmark}, bookmark,
		map[string]any{"decision": "yes"})
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Contains(t, resumeResult.DeleteBookmarks, bookmark.ID)
	require.Equal(t, "yes", instance.Nodes["wait"].Output["decision"])
	require.Empty(t, instance.Nodes["wait"].ResumePoint)
}

func TestParallelWaitAll(t *testing.T) {
	registry := testRegistry(t, &gateActivity{})
	def, err := NewDefinition(Options{
		ID: "par-all",
		Nodes: []*Node{
			{ID: "main", Type: "parallel", Children: []string{"g1", "g2"}},
			{ID: "g1", Type: "gate", Properties: map[string]any{"name": "first"}},
			{ID: "g2", Type: "gate", Properties: map[string]any{"name": "second"}},
		},
	})
	require.NoError(t, err)

	instance, result := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusSuspended, instance.Status)
	require.Len(t, result.CreateBookmarks, 2)

	byName := map[string]*Bookmark{}
	for _, bookmark := range result.CreateBookmarks {
		byName[bookmark.Name] = bookmark
	}

	resumeBurst(t, def, registry, instance, result.CreateBookmarks, byName["first"], nil)
	require.Equal(t, InstanceStatusSuspended, instance.Status)
	require.Equal(t, ActivityStatusRunning, instance.Nodes["main"].Status)

	resumeBurst(t, def, registry, instance, []*Bookmark{byName["second"]}, byName["second"], nil)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, ActivityStatusCompleted, instance.Nodes["main"].Status)
}

func TestParallelWaitAnyCancelsLosers(t *testing.T) {
	var executed []string
	registry := testRegistry(t,
		&gateActivity{},
		&traceActivity{typeName: "trace", executed: &executed})
	def, err := NewDefinition(Options{
		ID: "par-any",
		Nodes: []*Node{
			{ID: "main", Type: "parallel",
				Properties: map[string]any{"join": "wait_any"},
				Children:   []string{"slow", "fast"}},
			{ID: "slow", Type: "gate"},
			{ID: "fast", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, result := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, ActivityStatusCompleted, instance.Nodes["fast"].Status)
	require.Equal(t, ActivityStatusCancelled, instance.Nodes["slow"].Status)
	// The losing branch's bookmark never reaches the store.
	require.Empty(t, result.CreateBookmarks)
}

func TestForEachIterations(t *testing.T) {
	var executed []string
	registry := testRegistry(t, &traceActivity{typeName: "trace", executed: &executed})
	def, err := NewDefinition(Options{
		ID: "foreach-test",
		Nodes: []*Node{
			{ID: "main", Type: "foreach",
				Properties: map[string]any{"items": []any{"x", "y", "z"}},
				Children:   []string{"body"}},
			{ID: "body", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, _ := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, []string{"body#0", "body#1", "body#2"}, executed)

	// Each iteration carries its element and index in scratch.
	require.Equal(t, "y", instance.Nodes["body#1"].Scratch["item"])
	require.Equal(t, 1, instance.Nodes["body#1"].Scratch["index"])
}

func TestForEachEmptyCollection(t *testing.T) {
	var executed []string
	registry := testRegistry(t, &traceActivity{typeName: "trace", executed: &executed})
	def, err := NewDefinition(Options{
		ID: "foreach-empty",
		Nodes: []*Node{
			{ID: "main", Type: "foreach",
				Properties: map[string]any{"items": []any{}},
				Children:   []string{"body"}},
			{ID: "body", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, result := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Empty(t, executed)
	require.Empty(t, result.CreateBookmarks)
}

func TestIfBranching(t *testing.T) {
	var executed []string
	registry := testRegistry(t, &traceActivity{typeName: "trace", executed: &executed})

	build := func(condition string) *Definition {
		def, err := NewDefinition(Options{
			ID: "if-test",
			Nodes: []*Node{
				{ID: "main", Type: "if",
					Properties: map[string]any{"condition": condition},
					Children:   []string{"then", "else"}},
				{ID: "then", Type: "trace"},
				{ID: "else", Type: "trace"},
			},
		})
		require.NoError(t, err)
		return def
	}

	instance, _ := runBurst(t, build("1 == 1"), registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, []string{"then"}, executed)

	executed = nil
	instance, _ = runBurst(t, build("1 == 2"), registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, []string{"else"}, executed)
}

func TestFaultStrategyFault(t *testing.T) {
	var executed []string
	registry := testRegistry(t,
		&brokenActivity{},
		&traceActivity{typeName: "trace", executed: &executed})
	def, err := NewDefinition(Options{
		ID: "fault-test",
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"bad", "after"}},
			{ID: "bad", Type: "broken"},
			{ID: "after", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, _ := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFaulted, instance.Status)
	require.Empty(t, executed)
	require.Len(t, instance.Incidents, 1)
	require.Equal(t, FaultTypeActivity, instance.Incidents[0].FaultType)
	require.Equal(t, "bad", instance.Incidents[0].NodeKey)
}

func TestFaultStrategyContinue(t *testing.T) {
	var executed []string
	registry := testRegistry(t,
		&brokenActivity{},
		&traceActivity{typeName: "trace", executed: &executed})
	def, err := NewDefinition(Options{
		ID:            "continue-test",
		FaultStrategy: FaultStrategyContinue,
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"bad", "after"}},
			{ID: "bad", Type: "broken"},
			{ID: "after", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, _ := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFinished, instance.Status)
	require.Equal(t, []string{"after"}, executed)
	require.Len(t, instance.Incidents, 1)
	require.Equal(t, ActivityStatusFaulted, instance.Nodes["bad"].Status)
	require.Equal(t, OutcomeFaulted, instance.Nodes["bad"].Outcome)
}

func TestStalledInstanceFaults(t *testing.T) {
	var executed []string
	registry := testRegistry(t,
		&detachedActivity{},
		&traceActivity{typeName: "trace", executed: &executed})
	def, err := NewDefinition(Options{
		ID: "stall-test",
		Nodes: []*Node{
			{ID: "main", Type: "detached", Children: []string{"child"}},
			{ID: "child", Type: "trace"},
		},
	})
	require.NoError(t, err)

	instance, _ := runBurst(t, def, registry)
	require.Equal(t, InstanceStatusFaulted, instance.Status)
	require.Equal(t, "stalled", instance.SubStatus)
	require.NotEmpty(t, instance.Incidents)
}

// activityFunc adapts a function to the Activity interface for tests.
type funcActivity struct {
	typeName string
	fn       func(ctx context.Context, run *ActivityContext) error
}

func activityFunc(typeName string, fn func(ctx context.Context, run *ActivityContext) error) Activity {
	return &funcActivity{typeName: typeName, fn: fn}
}

func (a *funcActivity) Type() string { return a.typeName }

func (a *funcActivity) Execute(ctx context.Context, run *ActivityContext) error {
	return a.fn(ctx, run)
}
