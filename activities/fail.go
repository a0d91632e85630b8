package activities

import (
	"context"

	"github.com/deepnoodle-ai/conductor"
)

// FailActivity faults with a configurable message and fault type. Useful
// for testing incident handling and fault strategies.
type FailActivity struct{}

func NewFailActivity() *FailActivity {
	return &FailActivity{}
}

func (a *FailActivity) Type() string {
	return "fail"
}

func (a *FailActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	message, err := run.StringProperty(ctx, "message")
	if err != nil {
		return err
	}
	if message == "" {
		message = "intentional failure"
	}
	faultType := conductor.FaultTypeActivity
	if raw, ok := run.Property("fault_type"); ok {
		if s, isString := raw.(string); isString && s != "" {
			faultType = s
		}
	}
	return conductor.NewFaultError(faultType, message)
}
