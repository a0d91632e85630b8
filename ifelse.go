package conductor

import (
	"context"
	"strings"
)

// IfActivity evaluates its "condition" property and runs its first child
// when the condition is truthy, otherwise its second child when present.
// With no matching branch the node completes immediately.
type IfActivity struct{}

func (a *IfActivity) Type() string {
	return "if"
}

func (a *IfActivity) Execute(ctx context.Context, run *ActivityContext) error {
	children := run.Children()
	if len(children) == 0 {
		run.Complete()
		return nil
	}

	raw, ok := run.Property("condition")
	if !ok {
		return NewFaultError(FaultTypeFatal, "if requires a 'condition' property")
	}
	truthy, err := a.evaluateCondition(ctx, run, raw)
	if err != nil {
		return err
	}

	if truthy {
		return run.ScheduleChild(children[0])
	}
	if len(children) > 1 {
		return run.ScheduleChild(children[1])
	}
	run.Complete()
	return nil
}

func (a *IfActivity) OnChildCompleted(ctx context.Context, run *ActivityContext, child *NodeState) error {
	run.CompleteWith(child.Outcome, child.Output)
	return nil
}

func (a *IfActivity) evaluateCondition(ctx context.Context, run *ActivityContext, raw any) (bool, error) {
	code, isString := raw.(string)
	if !isString {
		switch v := raw.(type) {
		case bool:
			return v, nil
		default:
			return false, NewFaultError(FaultTypeFatal, "if 'condition' must be a string or bool")
		}
	}
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "${") && strings.HasSuffix(code, "}") {
		code = code[2 : len(code)-1]
	}
	value, err := run.Evaluate(ctx, code)
	if err != nil {
		return false, err
	}
	return value.IsTruthy(), nil
}
