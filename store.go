package conductor

import (
	"context"
	"time"

	"go.jetify.com/typeid"
)

// NewTaskID returns a new unique scheduled task identifier
func NewTaskID() string {
	id, err := typeid.WithPrefix("task")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ScheduledTask is the durable registry record for a time-based bookmark:
// which stimulus hash to fire, when, and which scheduler node currently owns
// delivery. Ownership is advisory; a node that stops checking in past the
// misfire threshold loses its tasks to another node.
type ScheduledTask struct {
	ID          string    `json:"id"`
	BookmarkID  string    `json:"bookmark_id"`
	InstanceID  string    `json:"instance_id"`
	Hash        string    `json:"hash"`
	FireAt      time.Time `json:"fire_at"`
	Owner       string    `json:"owner,omitempty"`
	LastCheckin time.Time `json:"last_checkin,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
}

// Copy returns a copy of the task.
func (t *ScheduledTask) Copy() *ScheduledTask {
	dup := *t
	return &dup
}

// BookmarkFilter narrows bookmark queries beyond the stimulus hash.
type BookmarkFilter struct {
	InstanceID    string
	NodeKey       string
	Name          string
	CorrelationID string
}

// Matches reports whether a bookmark satisfies every set filter field.
func (f BookmarkFilter) Matches(b *Bookmark) bool {
	if f.InstanceID != "" && f.InstanceID != b.InstanceID {
		return false
	}
	if f.NodeKey != "" && f.NodeKey != b.NodeKey {
		return false
	}
	if f.Name != "" && f.Name != b.Name {
		return false
	}
	if f.CorrelationID != "" && f.CorrelationID != b.CorrelationID {
		return false
	}
	return true
}

// InstanceSummary is a lightweight listing record for introspection.
type InstanceSummary struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definition_id"`
	DefinitionVersion int            `json:"definition_version"`
	Status            InstanceStatus `json:"status"`
	CorrelationID     string         `json:"correlation_id,omitempty"`
	IncidentCount     int            `json:"incident_count"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// BurstCommit is the atomic unit persisted at a burst boundary: the updated
// instance together with every bookmark and scheduled task created or
// consumed during the burst. Partial persistence of these records is the
// single most dangerous failure mode, so stores must apply a commit
// transactionally or not at all. Deleting a bookmark cascades to any
// scheduled tasks that reference it.
type BurstCommit struct {
	Instance        *Instance
	CreateBookmarks []*Bookmark
	DeleteBookmarks []string
	CreateTasks     []*ScheduledTask
	DeleteTasks     []string

	// Create marks the commit as introducing a new instance rather than
	// updating an existing one. The first burst of an instance commits this
	// way, so a failed first burst leaves no record behind.
	Create bool
}

// Store is the persistence contract for the engine: instances, bookmarks,
// and the scheduler's durable task registry. All bookmark operations follow
// the semantics of the bookmark store contract: creating a duplicate
// (hash, instance) pair fails with DuplicateBookmarkError, deletes are
// idempotent, and queries may legitimately return zero or many matches.
type Store interface {
	// CreateInstance persists a new workflow instance.
	CreateInstance(ctx context.Context, instance *Instance) error

	// SaveInstance persists changes to an existing instance.
	SaveInstance(ctx context.Context, instance *Instance) error

	// LoadInstance retrieves an instance by id. Returns ErrInstanceNotFound
	// if no record exists.
	LoadInstance(ctx context.Context, instanceID string) (*Instance, error)

	// ListInstances returns summaries of all known instances.
	ListInstances(ctx context.Context) ([]*InstanceSummary, error)

	// CommitBurst atomically persists a burst result.
	CommitBurst(ctx context.Context, commit *BurstCommit) error

	// CreateBookmark persists a single bookmark outside a burst commit.
	CreateBookmark(ctx context.Context, bookmark *Bookmark) error

	// FindBookmarksByHash returns bookmarks matching a stimulus hash and
	// filter. Expired bookmarks are excluded.
	FindBookmarksByHash(ctx context.Context, hash string, filter BookmarkFilter) ([]*Bookmark, error)

	// FindBookmarksByInstance returns all bookmarks owned by an instance.
	FindBookmarksByInstance(ctx context.Context, instanceID string) ([]*Bookmark, error)

	// DeleteBookmark removes a bookmark and any scheduled tasks that
	// reference it. Deleting a non-existent bookmark is not an error.
	DeleteBookmark(ctx context.Context, bookmarkID string) error

	// CreateTask registers a scheduled task.
	CreateTask(ctx context.Context, task *ScheduledTask) error

	// ClaimDueTasks atomically assigns to owner every task whose fire time
	// has arrived and that is unowned, already owned by owner, or owned by
	// a node whose last check-in is older than staleBefore. Claimed tasks
	// get their owner and last check-in updated before being returned.
	ClaimDueTasks(ctx context.Context, owner string, now time.Time, staleBefore time.Time) ([]*ScheduledTask, error)

	// Heartbeat refreshes the last check-in time on every task owned by
	// the given node.
	Heartbeat(ctx context.Context, owner string, now time.Time) error

	// DeleteTask removes a scheduled task. Idempotent.
	DeleteTask(ctx context.Context, taskID string) error
}
