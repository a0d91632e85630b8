package activities

import (
	"context"

	"github.com/deepnoodle-ai/conductor"
)

// ScriptActivity evaluates an expression against the instance variables and
// optionally stores the result in a variable.
type ScriptActivity struct{}

func NewScriptActivity() *ScriptActivity {
	return &ScriptActivity{}
}

func (a *ScriptActivity) Type() string {
	return "script"
}

func (a *ScriptActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	code, ok := run.Property("code")
	if !ok {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "script requires a 'code' property")
	}
	codeString, ok := code.(string)
	if !ok {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "script 'code' must be a string")
	}

	value, err := run.Evaluate(ctx, codeString)
	if err != nil {
		return err
	}
	result := value.Value()

	if raw, ok := run.Property("variable"); ok {
		if name, isString := raw.(string); isString && name != "" {
			run.SetVariable(name, result)
		}
	}
	run.CompleteWith(conductor.OutcomeDone, map[string]any{"result": result})
	return nil
}
