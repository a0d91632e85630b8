// Package activities provides the standard leaf activities that ship with
// the engine. All of them operate purely through the ActivityContext
// capability surface, so they work with any store or lock backend.
package activities

import (
	"github.com/deepnoodle-ai/conductor"
)

// Standard returns the standard leaf activities.
func Standard() []conductor.Activity {
	return []conductor.Activity{
		NewDelayActivity(),
		NewCronTimerActivity(),
		NewEventActivity(),
		NewWebhookActivity(),
		NewScriptActivity(),
		NewSetVariableActivity(),
		NewFailActivity(),
		NewLogActivity(),
	}
}
