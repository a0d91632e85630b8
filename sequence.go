package conductor

import (
	"context"
)

// SequenceActivity executes its children one after another, in definition
// order. It completes when the last child completes, carrying the last
// child's outcome and output.
type SequenceActivity struct{}

func (a *SequenceActivity) Type() string {
	return "sequence"
}

func (a *SequenceActivity) Execute(ctx context.Context, run *ActivityContext) error {
	children := run.Children()
	if len(children) == 0 {
		run.Complete()
		return nil
	}
	run.Scratch()["position"] = 0
	return run.ScheduleChild(children[0])
}

func (a *SequenceActivity) OnChildCompleted(ctx context.Context, run *ActivityContext, child *NodeState) error {
	children := run.Children()
	position := scratchInt(run.Scratch(), "position") + 1
	if position >= len(children) {
		run.CompleteWith(child.Outcome, child.Output)
		return nil
	}
	run.Scratch()["position"] = position
	return run.ScheduleChild(children[position])
}

// scratchInt reads an integer from scratch state, tolerating the float64
// representation JSON round-trips produce.
func scratchInt(scratch map[string]any, key string) int {
	switch v := scratch[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
