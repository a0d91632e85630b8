package conductor

import (
	"context"
	"fmt"
)

// ParallelActivity schedules all of its children in the same burst and
// joins on their completion. The "join" property selects the fan-in
// policy: "wait_all" (the default) completes once every branch reaches a
// terminal state, "wait_any" completes on the first terminal branch and
// cancels the rest.
type ParallelActivity struct{}

func (a *ParallelActivity) Type() string {
	return "parallel"
}

func (a *ParallelActivity) Execute(ctx context.Context, run *ActivityContext) error {
	children := run.Children()
	if len(children) == 0 {
		run.Complete()
		return nil
	}

	mode := JoinWaitAll
	if raw, ok := run.Property("join"); ok {
		switch raw {
		case string(JoinWaitAll):
			mode = JoinWaitAll
		case string(JoinWaitAny):
			mode = JoinWaitAny
		default:
			return NewFaultError(FaultTypeFatal, fmt.Sprintf("unknown join mode %q", raw))
		}
	}

	expected := make([]string, 0, len(children))
	for _, childID := range children {
		expected = append(expected, run.ChildKey(childID))
	}
	run.State().Join = &JoinState{Mode: mode, Expected: expected}

	for _, childID := range children {
		if err := run.ScheduleChild(childID); err != nil {
			return err
		}
	}
	return nil
}

func (a *ParallelActivity) OnChildCompleted(ctx context.Context, run *ActivityContext, child *NodeState) error {
	join := run.State().Join
	if join == nil {
		return NewFaultError(FaultTypeFatal, "parallel node has no join state")
	}
	join.MarkCompleted(child.Key)
	if !join.Satisfied() {
		return nil
	}

	if join.Mode == JoinWaitAny {
		completed := map[string]bool{}
		for _, key := range join.Completed {
			completed[key] = true
		}
		for _, key := range join.Expected {
			if !completed[key] {
				run.CancelBranch(key)
			}
		}
	}

	run.CompleteWith(OutcomeDone, a.collectOutputs(run, join))
	return nil
}

// collectOutputs gathers branch outputs keyed by child node id.
func (a *ParallelActivity) collectOutputs(run *ActivityContext, join *JoinState) map[string]any {
	outputs := map[string]any{}
	for _, key := range join.Completed {
		state, ok := run.ChildState(key)
		if !ok || state.Output == nil {
			continue
		}
		outputs[state.NodeID] = state.Output
	}
	if len(outputs) == 0 {
		return nil
	}
	return outputs
}
