package conductor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use and is intended for tests and single-process deployments.
type MemoryStore struct {
	mutex     sync.RWMutex
	instances map[string]*Instance
	bookmarks map[string]*Bookmark
	tasks     map[string]*ScheduledTask
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: map[string]*Instance{},
		bookmarks: map[string]*Bookmark{},
		tasks:     map[string]*ScheduledTask{},
	}
}

// CreateInstance persists a new workflow instance
func (s *MemoryStore) CreateInstance(ctx context.Context, instance *Instance) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.instances[instance.ID] = instance.Copy()
	return nil
}

// SaveInstance persists changes to an existing instance
func (s *MemoryStore) SaveInstance(ctx context.Context, instance *Instance) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.instances[instance.ID] = instance.Copy()
	return nil
}

// LoadInstance retrieves an instance by id
func (s *MemoryStore) LoadInstance(ctx context.Context, instanceID string) (*Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return instance.Copy(), nil
}

// ListInstances returns summaries of all known instances
func (s *MemoryStore) ListInstances(ctx context.Context) ([]*InstanceSummary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	summaries := make([]*InstanceSummary, 0, len(s.instances))
	for _, instance := range s.instances {
		summaries = append(summaries, &InstanceSummary{
			ID:                instance.ID,
			DefinitionID:      instance.DefinitionID,
			DefinitionVersion: instance.DefinitionVersion,
			Status:            instance.Status,
			CorrelationID:     instance.CorrelationID,
			IncidentCount:     len(instance.Incidents),
			CreatedAt:         instance.CreatedAt,
			UpdatedAt:         instance.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// CommitBurst atomically persists a burst result
func (s *MemoryStore) CommitBurst(ctx context.Context, commit *BurstCommit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Validate bookmark creations before touching anything so the commit
	// applies entirely or not at all. Bookmarks deleted by this same commit
	// do not count against the duplicate check.
	deleting := make(map[string]bool, len(commit.DeleteBookmarks))
	for _, bookmarkID := range commit.DeleteBookmarks {
		deleting[bookmarkID] = true
	}
	for _, bookmark := range commit.CreateBookmarks {
		if err := s.checkDuplicateLocked(bookmark, deleting); err != nil {
			return err
		}
	}
	if commit.Create {
		if _, exists := s.instances[commit.Instance.ID]; exists {
			return fmt.Errorf("instance %s already exists", commit.Instance.ID)
		}
	}

	s.instances[commit.Instance.ID] = commit.Instance.Copy()
	for _, bookmarkID := range commit.DeleteBookmarks {
		s.deleteBookmarkLocked(bookmarkID)
	}
	for _, bookmark := range commit.CreateBookmarks {
		s.bookmarks[bookmark.ID] = bookmark.Copy()
	}
	for _, task := range commit.CreateTasks {
		s.tasks[task.ID] = task.Copy()
	}
	for _, taskID := range commit.DeleteTasks {
		delete(s.tasks, taskID)
	}
	return nil
}

// CreateBookmark persists a single bookmark
func (s *MemoryStore) CreateBookmark(ctx context.Context, bookmark *Bookmark) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.checkDuplicateLocked(bookmark, nil); err != nil {
		return err
	}
	s.bookmarks[bookmark.ID] = bookmark.Copy()
	return nil
}

func (s *MemoryStore) checkDuplicateLocked(bookmark *Bookmark, ignoring map[string]bool) error {
	for _, existing := range s.bookmarks {
		if ignoring[existing.ID] {
			continue
		}
		if existing.InstanceID == bookmark.InstanceID && existing.Hash == bookmark.Hash {
			return &DuplicateBookmarkError{
				InstanceID: bookmark.InstanceID,
				Hash:       bookmark.Hash,
			}
		}
	}
	return nil
}

// FindBookmarksByHash returns unexpired bookmarks matching a hash and filter
func (s *MemoryStore) FindBookmarksByHash(ctx context.Context, hash string, filter BookmarkFilter) ([]*Bookmark, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	var matches []*Bookmark
	for _, bookmark := range s.bookmarks {
		if bookmark.Hash != hash || bookmark.Expired(now) {
			continue
		}
		if !filter.Matches(bookmark) {
			continue
		}
		matches = append(matches, bookmark.Copy())
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

// FindBookmarksByInstance returns all bookmarks owned by an instance
func (s *MemoryStore) FindBookmarksByInstance(ctx context.Context, instanceID string) ([]*Bookmark, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var matches []*Bookmark
	for _, bookmark := range s.bookmarks {
		if bookmark.InstanceID == instanceID {
			matches = append(matches, bookmark.Copy())
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

// DeleteBookmark removes a bookmark and its scheduled tasks. Idempotent.
func (s *MemoryStore) DeleteBookmark(ctx context.Context, bookmarkID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.deleteBookmarkLocked(bookmarkID)
	return nil
}

func (s *MemoryStore) deleteBookmarkLocked(bookmarkID string) {
	delete(s.bookmarks, bookmarkID)
	for taskID, task := range s.tasks {
		if task.BookmarkID == bookmarkID {
			delete(s.tasks, taskID)
		}
	}
}

// CreateTask registers a scheduled task
func (s *MemoryStore) CreateTask(ctx context.Context, task *ScheduledTask) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[task.ID] = task.Copy()
	return nil
}

// ClaimDueTasks assigns due, claimable tasks to the given owner
func (s *MemoryStore) ClaimDueTasks(ctx context.Context, owner string, now time.Time, staleBefore time.Time) ([]*ScheduledTask, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var claimed []*ScheduledTask
	for _, task := range s.tasks {
		if task.FireAt.After(now) {
			continue
		}
		claimable := task.Owner == "" || task.Owner == owner || task.LastCheckin.Before(staleBefore)
		if !claimable {
			continue
		}
		task.Owner = owner
		task.LastCheckin = now
		claimed = append(claimed, task.Copy())
	}
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].FireAt.Before(claimed[j].FireAt)
	})
	return claimed, nil
}

// Heartbeat refreshes the check-in time on every task owned by a node
func (s *MemoryStore) Heartbeat(ctx context.Context, owner string, now time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, task := range s.tasks {
		if task.Owner == owner {
			task.LastCheckin = now
		}
	}
	return nil
}

// DeleteTask removes a scheduled task. Idempotent.
func (s *MemoryStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.tasks, taskID)
	return nil
}
