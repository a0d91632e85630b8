package conductor

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/conductor/script"
)

// ForEachActivity instantiates its body once per element of the "items"
// property and joins on all iterations. Each iteration executes the child
// subtree under a distinct state key carrying the element and its index,
// so iterations suspend and resume independently.
type ForEachActivity struct{}

func (a *ForEachActivity) Type() string {
	return "foreach"
}

func (a *ForEachActivity) Execute(ctx context.Context, run *ActivityContext) error {
	children := run.Children()
	if len(children) == 0 {
		run.Complete()
		return nil
	}

	items, err := a.resolveItems(ctx, run)
	if err != nil {
		return err
	}
	// Zero elements is an immediate completion, not a suspension.
	if len(items) == 0 {
		run.Complete()
		return nil
	}

	var expected []string
	for index := range items {
		for _, childID := range children {
			expected = append(expected, fmt.Sprintf("%s#%d", childID, index))
		}
	}
	run.State().Join = &JoinState{Mode: JoinWaitAll, Expected: expected}

	for index, item := range items {
		scratch := map[string]any{"item": item, "index": index}
		for _, childID := range children {
			suffix := fmt.Sprintf("#%d", index)
			if err := run.ScheduleChildKeyed(childID, suffix, scratch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *ForEachActivity) OnChildCompleted(ctx context.Context, run *ActivityContext, child *NodeState) error {
	join := run.State().Join
	if join == nil {
		return NewFaultError(FaultTypeFatal, "foreach node has no join state")
	}
	join.MarkCompleted(child.Key)
	if join.Satisfied() {
		run.Complete()
	}
	return nil
}

// resolveItems evaluates the "items" property: a string is treated as an
// expression, anything else as a literal collection.
func (a *ForEachActivity) resolveItems(ctx context.Context, run *ActivityContext) ([]any, error) {
	raw, ok := run.Property("items")
	if !ok {
		return nil, NewFaultError(FaultTypeFatal, "foreach requires an 'items' property")
	}
	if code, isString := raw.(string); isString {
		code = strings.TrimSpace(code)
		if strings.HasPrefix(code, "${") && strings.HasSuffix(code, "}") {
			code = code[2 : len(code)-1]
		}
		value, err := run.Evaluate(ctx, code)
		if err != nil {
			return nil, err
		}
		items, err := value.Items()
		if err != nil {
			return nil, &FaultError{Type: FaultTypeExpression, Cause: err.Error(), Wrapped: err}
		}
		return items, nil
	}
	items, err := script.ItemsOf(raw)
	if err != nil {
		return nil, &FaultError{Type: FaultTypeExpression, Cause: err.Error(), Wrapped: err}
	}
	return items, nil
}
