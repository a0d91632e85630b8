package activities

import (
	"context"

	"github.com/deepnoodle-ai/conductor"
)

// SetVariableActivity assigns an instance variable. The value property goes
// through template expansion, so it may reference other variables or the
// foreach iteration scope.
type SetVariableActivity struct{}

func NewSetVariableActivity() *SetVariableActivity {
	return &SetVariableActivity{}
}

func (a *SetVariableActivity) Type() string {
	return "set_variable"
}

func (a *SetVariableActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	raw, ok := run.Property("name")
	if !ok {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "set_variable requires a 'name' property")
	}
	name, ok := raw.(string)
	if !ok || name == "" {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "set_variable 'name' must be a non-empty string")
	}

	value, err := run.EvalProperty(ctx, "value")
	if err != nil {
		return err
	}
	run.SetVariable(name, value)
	run.Complete()
	return nil
}
