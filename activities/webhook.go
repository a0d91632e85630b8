package activities

import (
	"context"
	"strings"

	"github.com/deepnoodle-ai/conductor"
)

// WebhookActivity waits for an inbound HTTP delivery relayed by the
// embedding application. There is no HTTP server here: the application
// receives the request on whatever stack it already runs, builds a stimulus
// from the method and path, and hands it to Engine.Resume. The request body
// arrives as the activity's input.
type WebhookActivity struct{}

func NewWebhookActivity() *WebhookActivity {
	return &WebhookActivity{}
}

func (a *WebhookActivity) Type() string {
	return "webhook"
}

func (a *WebhookActivity) Execute(ctx context.Context, run *conductor.ActivityContext) error {
	name, err := a.bookmarkName(run)
	if err != nil {
		return err
	}
	return run.CreateBookmark(conductor.BookmarkSpec{
		Name:        name,
		ResumePoint: "delivered",
	})
}

func (a *WebhookActivity) Resume(ctx context.Context, run *conductor.ActivityContext) error {
	run.CompleteWith(conductor.OutcomeDone, run.Input())
	return nil
}

func (a *WebhookActivity) TriggerStimulus(ctx context.Context, run *conductor.ActivityContext) (conductor.Stimulus, error) {
	name, err := a.bookmarkName(run)
	if err != nil {
		return conductor.Stimulus{}, err
	}
	return conductor.Stimulus{
		ActivityType:  a.Type(),
		BookmarkName:  name,
		CorrelationID: run.CorrelationID(),
	}, nil
}

// WebhookBookmarkName builds the bookmark name for an HTTP method + path
// pair, shared between the activity and applications relaying deliveries.
func WebhookBookmarkName(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func (a *WebhookActivity) bookmarkName(run *conductor.ActivityContext) (string, error) {
	path, ok := run.Property("path")
	if !ok {
		return "", conductor.NewFaultError(conductor.FaultTypeFatal, "webhook requires a 'path' property")
	}
	pathString, ok := path.(string)
	if !ok || pathString == "" {
		return "", conductor.NewFaultError(conductor.FaultTypeFatal, "webhook 'path' must be a non-empty string")
	}
	method := "POST"
	if raw, ok := run.Property("method"); ok {
		if s, isString := raw.(string); isString && s != "" {
			method = s
		}
	}
	return WebhookBookmarkName(method, pathString), nil
}
