package conductor

import (
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// NewBookmarkID returns a new unique bookmark identifier
func NewBookmarkID() string {
	id, err := typeid.WithPrefix("bmk")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Bookmark marks one point where a workflow instance is parked awaiting
// external input. It is matched against future stimuli by its hash.
type Bookmark struct {
	ID            string         `json:"id"`
	InstanceID    string         `json:"instance_id"`
	NodeKey       string         `json:"node_key"`
	ActivityType  string         `json:"activity_type"`
	Name          string         `json:"name"`
	Payload       map[string]any `json:"payload,omitempty"`
	Hash          string         `json:"hash"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	AutoBurn      bool           `json:"auto_burn"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

// Copy returns a shallow copy of the bookmark with its own payload map.
func (b *Bookmark) Copy() *Bookmark {
	dup := *b
	dup.Payload = copyMap(b.Payload)
	return &dup
}

// Expired reports whether the bookmark's optional expiration has passed.
func (b *Bookmark) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// Stimulus is the external-event shape that should reproduce the hash of a
// stored bookmark: the same activity type, bookmark name, payload and
// correlation id the creating activity used.
type Stimulus struct {
	ActivityType  string         `json:"activity_type"`
	BookmarkName  string         `json:"bookmark_name"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`

	// Input is data delivered to the resumed activity. It does not take
	// part in hash matching: the payload selects which bookmarks wake, the
	// input is what the waiting activity receives. When nil, the payload
	// itself is delivered.
	Input map[string]any `json:"input,omitempty"`
}

// Hash computes the stimulus hash for matching against stored bookmarks.
func (s Stimulus) Hash() (string, error) {
	hash, err := StimulusHash(s.ActivityType, s.BookmarkName, s.Payload, s.CorrelationID)
	if err != nil {
		return "", fmt.Errorf("hash stimulus: %w", err)
	}
	return hash, nil
}

// BookmarkSpec is used by an activity to create a bookmark. Creating a
// bookmark is the only path to suspension: the activity's node transitions to
// Suspended and the containing burst ends on that branch.
type BookmarkSpec struct {
	// Name is the logical bookmark category, e.g. "Approval" or "Delay".
	Name string

	// Payload is the opaque structured data used for stimulus matching.
	Payload map[string]any

	// ResumePoint identifies which continuation the activity's Resume
	// method should dispatch to when the bookmark is matched.
	ResumePoint string

	// KeepAfterMatch disables auto-burn: the bookmark survives its first
	// successful match and can be matched again (broadcast scenarios).
	KeepAfterMatch bool

	// FireAt, when set, registers a time-based scheduled task that will
	// deliver the stimulus at the given time.
	FireAt *time.Time

	// ExpiresAt, when set, makes the bookmark unmatchable after this time.
	ExpiresAt *time.Time
}
