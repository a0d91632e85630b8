package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/conductor"
)

// DelayActivity suspends the workflow for a configured duration. Unlike a
// plain sleep, the wait survives process restarts: the activity parks on a
// bookmark with a scheduled fire time and the timer scheduler wakes it.
type DelayActivity struct{}

func NewDelayActivity() *DelayActivity {
	return &DelayActivity{}
}

func (a *DelayActivity) Type() string {
	return "delay"
}

func (a *DelayActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	duration, err := durationProperty(run, "duration")
	if err != nil {
		return err
	}
	if duration <= 0 {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "delay duration must be positive")
	}

	fireAt := time.Now().UTC().Add(duration)
	return run.CreateBookmark(conductor.BookmarkSpec{
		Name: "delay",
		Payload: map[string]any{
			"fire_at": fireAt.Format(time.RFC3339Nano),
		},
		ResumePoint: "elapsed",
		FireAt:      &fireAt,
	})
}

func (a *DelayActivity) Resume(ctx context.Context, run *conductor.ActivityContext) error {
	run.Complete()
	return nil
}

// durationProperty reads a duration from a node property, accepting either
// a Go duration string or a float number of seconds.
func durationProperty(run *conductor.ActivityContext, name string) (time.Duration, error) {
	raw, ok := run.Property(name)
	if !ok {
		return 0, conductor.NewFaultError(conductor.FaultTypeFatal,
			fmt.Sprintf("missing %q property", name))
	}
	switch v := raw.(type) {
	case string:
		duration, err := time.ParseDuration(v)
		if err != nil {
			return 0, conductor.NewFaultError(conductor.FaultTypeFatal,
				fmt.Sprintf("invalid duration %q: %v", v, err))
		}
		return duration, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	default:
		return 0, conductor.NewFaultError(conductor.FaultTypeFatal,
			fmt.Sprintf("%q must be a duration string or seconds", name))
	}
}
