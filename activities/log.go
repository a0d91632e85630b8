package activities

import (
	"context"

	"github.com/deepnoodle-ai/conductor"
)

// LogActivity writes a templated message to the instance logger.
type LogActivity struct{}

func NewLogActivity() *LogActivity {
	return &LogActivity{}
}

func (a *LogActivity) Type() string {
	return "log"
}

func (a *LogActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	message, err := run.StringProperty(ctx, "message")
	if err != nil {
		return err
	}
	run.Logger().Info(message)
	run.Complete()
	return nil
}
