package conductor

import (
	"context"

	"github.com/fatih/color"
)

// ConsoleCallbacks is an ExecutionCallbacks implementation that prints
// colored burst and activity progress. Intended for CLI use.
type ConsoleCallbacks struct {
	BaseExecutionCallbacks
}

func NewConsoleCallbacks() *ConsoleCallbacks {
	return &ConsoleCallbacks{}
}

func (c *ConsoleCallbacks) BeforeBurst(ctx context.Context, event *BurstEvent) {
	if event.Resuming {
		color.Blue("Resuming instance %s", event.InstanceID)
	} else {
		color.Blue("Starting instance %s (%s)", event.InstanceID, event.DefinitionID)
	}
}

func (c *ConsoleCallbacks) AfterBurst(ctx context.Context, event *BurstEvent) {
	switch event.Status {
	case InstanceStatusFinished:
		color.Green("Instance %s finished in %v", event.InstanceID, event.Duration)
	case InstanceStatusSuspended:
		color.Yellow("Instance %s suspended on %d bookmark(s)", event.InstanceID, event.BookmarkCount)
	case InstanceStatusFaulted:
		color.Red("Instance %s faulted", event.InstanceID)
	case InstanceStatusCancelled:
		color.Red("Instance %s cancelled", event.InstanceID)
	default:
		color.White("Instance %s: %s", event.InstanceID, event.Status)
	}
}

func (c *ConsoleCallbacks) BeforeActivityExecution(ctx context.Context, event *ActivityEvent) {
	color.Cyan("> %s [%s]", event.NodeKey, event.ActivityType)
}

func (c *ConsoleCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityEvent) {
	switch event.Status {
	case ActivityStatusCompleted:
		color.Green("  %s completed (%s)", event.NodeKey, event.Outcome)
	case ActivityStatusSuspended:
		color.Yellow("  %s suspended", event.NodeKey)
	case ActivityStatusFaulted:
		color.Red("  %s faulted: %v", event.NodeKey, event.Error)
	}
}

func (c *ConsoleCallbacks) OnIncident(ctx context.Context, event *IncidentEvent) {
	color.Red("Incident %s on %s: %s (%s)",
		event.Incident.ID, event.Incident.NodeKey, event.Incident.Message, event.Incident.FaultType)
}
