package conductor

import (
	"context"
	"time"

	"go.jetify.com/typeid"
)

// NewRecordID generates a new activity record id
func NewRecordID() string {
	id, err := typeid.WithPrefix("rec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ActivityRecord represents one activity execution within a burst
type ActivityRecord struct {
	ID           string         `json:"id"`
	InstanceID   string         `json:"instance_id"`
	NodeKey      string         `json:"node_key"`
	ActivityType string         `json:"activity_type"`
	Status       ActivityStatus `json:"status"`
	Outcome      string         `json:"outcome,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	IncidentID   string         `json:"incident_id,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	Duration     float64        `json:"duration"`
}

// ActivityRecorder defines a simple activity audit-trail interface
type ActivityRecorder interface {
	// RecordActivity records a finished activity execution
	RecordActivity(ctx context.Context, record *ActivityRecord) error

	// GetActivityHistory retrieves the activity records for an instance
	GetActivityHistory(ctx context.Context, instanceID string) ([]*ActivityRecord, error)
}
