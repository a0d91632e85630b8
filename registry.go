package conductor

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps activity type names to registered activities. It is
// populated at startup and read-mostly during execution.
type Registry struct {
	mutex  sync.RWMutex
	byType map[string]Activity
}

// NewRegistry creates a registry containing the given activities.
func NewRegistry(activities ...Activity) (*Registry, error) {
	r := &Registry{byType: map[string]Activity{}}
	if err := r.Register(activities...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds activities to the registry. Registering two activities with
// the same type name is an error.
func (r *Registry) Register(activities ...Activity) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, activity := range activities {
		name := activity.Type()
		if name == "" {
			return fmt.Errorf("activity type name required")
		}
		if _, exists := r.byType[name]; exists {
			return fmt.Errorf("activity type %q already registered", name)
		}
		r.byType[name] = activity
	}
	return nil
}

// Get returns the activity registered under a type name
func (r *Registry) Get(activityType string) (Activity, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	activity, ok := r.byType[activityType]
	return activity, ok
}

// Types returns the sorted names of all registered activity types
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.byType))
	for name := range r.byType {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CoreActivities returns the composite activities every engine registers by
// default: sequence, parallel, foreach, and if.
func CoreActivities() []Activity {
	return []Activity{
		&SequenceActivity{},
		&ParallelActivity{},
		&ForEachActivity{},
		&IfActivity{},
	}
}
