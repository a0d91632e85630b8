package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/conductor"
	"github.com/robfig/cron/v3"
)

// CronTimerActivity suspends until the next fire time of a cron schedule.
// With "repeat: true" the activity re-arms itself after every fire and the
// node stays suspended between occurrences; otherwise it completes after
// the first fire.
type CronTimerActivity struct{}

func NewCronTimerActivity() *CronTimerActivity {
	return &CronTimerActivity{}
}

func (a *CronTimerActivity) Type() string {
	return "cron"
}

func (a *CronTimerActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	return a.arm(run)
}

func (a *CronTimerActivity) Resume(ctx context.Context, run *conductor.ActivityContext) error {
	if repeat, ok := run.Property("repeat"); ok && repeat == true {
		return a.arm(run)
	}
	run.Complete()
	return nil
}

// arm computes the next occurrence and parks on a scheduled bookmark.
func (a *CronTimerActivity) arm(run *conductor.ActivityContext) error {
	spec, ok := run.Property("schedule")
	if !ok {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "cron requires a 'schedule' property")
	}
	specString, ok := spec.(string)
	if !ok {
		return conductor.NewFaultError(conductor.FaultTypeFatal, "cron 'schedule' must be a string")
	}
	schedule, err := cron.ParseStandard(specString)
	if err != nil {
		return conductor.NewFaultError(conductor.FaultTypeFatal,
			fmt.Sprintf("invalid cron schedule %q: %v", specString, err))
	}

	fireAt := schedule.Next(time.Now().UTC())
	return run.CreateBookmark(conductor.BookmarkSpec{
		Name: "cron",
		Payload: map[string]any{
			"schedule": specString,
			"fire_at":  fireAt.Format(time.RFC3339Nano),
		},
		ResumePoint: "fired",
		FireAt:      &fireAt,
	})
}
