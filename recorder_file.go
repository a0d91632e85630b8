package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileActivityRecorder is an implementation of ActivityRecorder that writes
// to a file. A file is created per instance. The file is formatted as
// newline-delimited JSON.
type FileActivityRecorder struct {
	directory string
}

func NewFileActivityRecorder(directory string) *FileActivityRecorder {
	return &FileActivityRecorder{directory: directory}
}

func (r *FileActivityRecorder) instanceRecordPath(instanceID string) string {
	return filepath.Join(r.directory, fmt.Sprintf("%s.jsonl", instanceID))
}

func (r *FileActivityRecorder) GetActivityHistory(ctx context.Context, instanceID string) ([]*ActivityRecord, error) {
	filePath := r.instanceRecordPath(instanceID)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var records []*ActivityRecord
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var record ActivityRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, nil
}

func (r *FileActivityRecorder) RecordActivity(ctx context.Context, record *ActivityRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	filePath := r.instanceRecordPath(record.InstanceID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
