package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/conductor"
)

// EventActivity waits for a named external event. The event is delivered by
// calling Engine.Resume with a stimulus whose name, payload, and correlation
// id match the bookmark; the stimulus payload becomes the activity's input.
//
// The "outcome_from" property names an input field whose string value
// becomes the completion outcome, letting a single event node route an
// approval decision ("approved" / "rejected") to different branches.
type EventActivity struct{}

func NewEventActivity() *EventActivity {
	return &EventActivity{}
}

func (a *EventActivity) Type() string {
	return "event"
}

func (a *EventActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	spec, err := a.bookmarkSpec(run)
	if err != nil {
		return err
	}
	return run.CreateBookmark(*spec)
}

func (a *EventActivity) Resume(ctx context.Context, run *conductor.ActivityContext) error {
	input := run.Input()
	outcome := conductor.OutcomeDone
	if field, ok := run.Property("outcome_from"); ok {
		if name, isString := field.(string); isString && name != "" {
			if value, exists := input[name]; exists {
				if s, isString := value.(string); isString && s != "" {
					outcome = s
				}
			}
		}
	}
	run.CompleteWith(outcome, input)
	return nil
}

// TriggerStimulus reports the stimulus this event waits for, so the engine
// can satisfy the node directly from the stimulus that started the
// instance instead of suspending on an event that already happened.
func (a *EventActivity) TriggerStimulus(ctx context.Context, run *conductor.ActivityContext) (conductor.Stimulus, error) {
	spec, err := a.bookmarkSpec(run)
	if err != nil {
		return conductor.Stimulus{}, err
	}
	return conductor.Stimulus{
		ActivityType:  a.Type(),
		BookmarkName:  spec.Name,
		Payload:       spec.Payload,
		CorrelationID: run.CorrelationID(),
	}, nil
}

func (a *EventActivity) bookmarkSpec(run *conductor.ActivityContext) (*conductor.BookmarkSpec, error) {
	name, ok := run.Property("name")
	if !ok {
		return nil, conductor.NewFaultError(conductor.FaultTypeFatal, "event requires a 'name' property")
	}
	nameString, ok := name.(string)
	if !ok || nameString == "" {
		return nil, conductor.NewFaultError(conductor.FaultTypeFatal, "event 'name' must be a non-empty string")
	}

	spec := &conductor.BookmarkSpec{
		Name:        nameString,
		Payload:     mapProperty(run, "payload"),
		ResumePoint: "signalled",
	}
	if keep, ok := run.Property("keep"); ok && keep == true {
		spec.KeepAfterMatch = true
	}
	if raw, ok := run.Property("expires_in"); ok {
		ttlString, isString := raw.(string)
		if !isString {
			return nil, conductor.NewFaultError(conductor.FaultTypeFatal, "event 'expires_in' must be a duration string")
		}
		ttl, err := time.ParseDuration(ttlString)
		if err != nil {
			return nil, conductor.NewFaultError(conductor.FaultTypeFatal,
				fmt.Sprintf("invalid 'expires_in' %q: %v", ttlString, err))
		}
		expiresAt := time.Now().UTC().Add(ttl)
		spec.ExpiresAt = &expiresAt
	}
	return spec, nil
}

// mapProperty reads a map-valued property, tolerating the map[any]any form
// some YAML decoders produce.
func mapProperty(run *conductor.ActivityContext, name string) map[string]any {
	raw, ok := run.Property(name)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	case map[any]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[fmt.Sprintf("%v", key)] = value
		}
		return result
	default:
		return nil
	}
}
