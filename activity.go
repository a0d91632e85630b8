package conductor

import (
	"context"
)

// Standard outcome names. Activities may complete with any outcome string;
// these are the ones the engine itself produces.
const (
	OutcomeDone    = "done"
	OutcomeFaulted = "faulted"
)

// Activity is the execution contract every activity variant implements. The
// engine dispatches through this interface; activity type names are used
// only for registry lookup at the boundary, never inside state machine
// logic.
//
// Implementations must be stateless: all per-execution state lives on the
// node's NodeState (via the run context's Scratch, variables, and
// bookmarks), so a single registered instance can serve many workflow
// instances concurrently.
type Activity interface {

	// Type returns the registered activity type name
	Type() string

	// Execute runs the activity. An activity that neither creates a
	// bookmark, schedules children, nor completes explicitly is completed
	// by the engine with OutcomeDone when Execute returns nil.
	Execute(ctx context.Context, run *ActivityContext) error
}

// Resumable is implemented by blocking activities: those that create
// bookmarks and are re-entered when a matching stimulus arrives. Resume is
// dispatched with the resume point recorded at bookmark creation time;
// execution continues from that logical point, not from the beginning.
type Resumable interface {
	Activity

	// Resume continues the activity after its bookmark was matched.
	Resume(ctx context.Context, run *ActivityContext) error
}

// Trigger is implemented by activities that can both start a new workflow
// instance and block inside an already-running one. When the burst carries
// the stimulus that started the instance and it matches the trigger's own
// stimulus shape, the engine completes the trigger immediately instead of
// creating a bookmark, so a workflow never deadlocks on the very event that
// launched it.
type Trigger interface {
	Activity

	// TriggerStimulus returns the stimulus shape this trigger waits for.
	TriggerStimulus(ctx context.Context, run *ActivityContext) (Stimulus, error)
}

// ChildObserver is implemented by composite activities that schedule child
// nodes and need to observe their completion to drive sequencing and
// fan-in joins.
type ChildObserver interface {
	Activity

	// OnChildCompleted is invoked on the scheduling composite each time
	// one of its children reaches a terminal completion (including a
	// faulted child under the continue-with-incidents strategy, which is
	// reported with outcome OutcomeFaulted).
	OnChildCompleted(ctx context.Context, run *ActivityContext, child *NodeState) error
}
