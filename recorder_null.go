package conductor

import "context"

// NullActivityRecorder is a no-op implementation of ActivityRecorder.
type NullActivityRecorder struct{}

func NewNullActivityRecorder() *NullActivityRecorder {
	return &NullActivityRecorder{}
}

func (r *NullActivityRecorder) RecordActivity(ctx context.Context, record *ActivityRecord) error {
	return nil
}

func (r *NullActivityRecorder) GetActivityHistory(ctx context.Context, instanceID string) ([]*ActivityRecord, error) {
	return nil, nil
}
