package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinition(Options{
		ID: "test-def",
		Nodes: []*Node{
			{ID: "main", Type: "sequence", Children: []string{"step"}},
			{ID: "step", Type: "log"},
		},
	})
	require.NoError(t, err)
	return def
}

func testBookmark(instanceID, hash string) *Bookmark {
	return &Bookmark{
		ID:         NewBookmarkID(),
		InstanceID: instanceID,
		NodeKey:    "step",
		ActivityType: "event",
		Name:       "approval",
		Hash:       hash,
		AutoBurn:   true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMemoryStoreInstanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	def := testDefinition(t)

	instance := NewInstance(def, "corr-1")
	instance.Variables["count"] = 3
	state := instance.Node("step", "step")
	state.Status = ActivityStatusSuspended
	state.ResumePoint = "signalled"
	state.Scratch = map[string]any{"item": "a", "index": 0}

	require.NoError(t, store.CreateInstance(ctx, instance))

	loaded, err := store.LoadInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, instance, loaded)

	// The store must hold a copy, not share memory with the caller.
	instance.Variables["count"] = 99
	state.Status = ActivityStatusCompleted
	reloaded, err := store.LoadInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.Variables["count"])
	require.Equal(t, ActivityStatusSuspended, reloaded.Nodes["step"].Status)
}

func TestMemoryStoreLoadMissingInstance(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.LoadInstance(context.Background(), "wf_nope")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestMemoryStoreDuplicateBookmark(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := testBookmark("wf_1", "hash-a")
	require.NoError(t, store.CreateBookmark(ctx, first))

	dup := testBookmark("wf_1", "hash-a")
	err := store.CreateBookmark(ctx, dup)
	var dupErr *DuplicateBookmarkError
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, "wf_1", dupErr.InstanceID)
	require.Equal(t, "hash-a", dupErr.Hash)

	// Same hash on a different instance is fine.
	require.NoError(t, store.CreateBookmark(ctx, testBookmark("wf_2", "hash-a")))
}

func TestMemoryStoreDeleteBookmarkCascadesTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	bookmark := testBookmark("wf_1", "hash-a")
	require.NoError(t, store.CreateBookmark(ctx, bookmark))
	task := &ScheduledTask{
		ID:         NewTaskID(),
		BookmarkID: bookmark.ID,
		InstanceID: "wf_1",
		Hash:       "hash-a",
		FireAt:     time.Now().Add(-time.Minute),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateTask(ctx, task))

	require.NoError(t, store.DeleteBookmark(ctx, bookmark.ID))
	claimed, err := store.ClaimDueTasks(ctx, "node-1", time.Now(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, claimed)

	// Deleting again is not an error.
	require.NoError(t, store.DeleteBookmark(ctx, bookmark.ID))
}

func TestMemoryStoreCommitBurstAtomicity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	def := testDefinition(t)

	instance := NewInstance(def, "")
	require.NoError(t, store.CreateInstance(ctx, instance))
	existing := testBookmark(instance.ID, "hash-a")
	require.NoError(t, store.CreateBookmark(ctx, existing))

	// A commit containing a duplicate bookmark must change nothing.
	updated := instance.Copy()
	updated.Status = InstanceStatusSuspended
	err := store.CommitBurst(ctx, &BurstCommit{
		Instance:        updated,
		CreateBookmarks: []*Bookmark{testBookmark(instance.ID, "hash-a")},
	})
	var dupErr *DuplicateBookmarkError
	require.ErrorAs(t, err, &dupErr)

	loaded, err := store.LoadInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, InstanceStatusRunning, loaded.Status)

	// Burning the old bookmark in the same commit makes way for the new one.
	replacement := testBookmark(instance.ID, "hash-a")
	require.NoError(t, store.CommitBurst(ctx, &BurstCommit{
		Instance:        updated,
		CreateBookmarks: []*Bookmark{replacement},
		DeleteBookmarks: []string{existing.ID},
	}))
	bookmarks, err := store.FindBookmarksByInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	require.Equal(t, replacement.ID, bookmarks[0].ID)
}

func TestMemoryStoreCommitBurstCreatesInstance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	def := testDefinition(t)

	instance := NewInstance(def, "")
	require.NoError(t, store.CommitBurst(ctx, &BurstCommit{
		Instance: instance,
		Create:   true,
	}))
	loaded, err := store.LoadInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, instance.ID, loaded.ID)

	// A create commit for an id already present must be rejected.
	err = store.CommitBurst(ctx, &BurstCommit{Instance: instance, Create: true})
	require.Error(t, err)
}

func TestMemoryStoreFindBookmarksByHash(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b1 := testBookmark("wf_1", "hash-a")
	b2 := testBookmark("wf_2", "hash-a")
	b2.CorrelationID = "corr-2"
	b3 := testBookmark("wf_3", "hash-b")
	require.NoError(t, store.CreateBookmark(ctx, b1))
	require.NoError(t, store.CreateBookmark(ctx, b2))
	require.NoError(t, store.CreateBookmark(ctx, b3))

	matches, err := store.FindBookmarksByHash(ctx, "hash-a", BookmarkFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = store.FindBookmarksByHash(ctx, "hash-a", BookmarkFilter{CorrelationID: "corr-2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "wf_2", matches[0].InstanceID)

	// Expired bookmarks never match.
	expired := testBookmark("wf_4", "hash-c")
	past := time.Now().Add(-time.Minute)
	expired.ExpiresAt = &past
	require.NoError(t, store.CreateBookmark(ctx, expired))
	matches, err = store.FindBookmarksByHash(ctx, "hash-c", BookmarkFilter{})
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestMemoryStoreClaimDueTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	bookmark := testBookmark("wf_1", "hash-a")
	require.NoError(t, store.CreateBookmark(ctx, bookmark))

	due := &ScheduledTask{
		ID: NewTaskID(), BookmarkID: bookmark.ID, InstanceID: "wf_1",
		Hash: "hash-a", FireAt: now.Add(-time.Second), CreatedAt: now,
	}
	future := &ScheduledTask{
		ID: NewTaskID(), BookmarkID: bookmark.ID, InstanceID: "wf_1",
		Hash: "hash-a", FireAt: now.Add(time.Hour), CreatedAt: now,
	}
	require.NoError(t, store.CreateTask(ctx, due))
	require.NoError(t, store.CreateTask(ctx, future))

	claimed, err := store.ClaimDueTasks(ctx, "node-1", now, now.Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, due.ID, claimed[0].ID)
	require.Equal(t, "node-1", claimed[0].Owner)

	// A fresh owner with a recent check-in keeps its claim.
	claimed, err = store.ClaimDueTasks(ctx, "node-2", now.Add(time.Second), now.Add(-29*time.Second))
	require.NoError(t, err)
	require.Empty(t, claimed)

	// Once the check-in goes stale the task is taken over.
	later := now.Add(time.Minute)
	claimed, err = store.ClaimDueTasks(ctx, "node-2", later, later.Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "node-2", claimed[0].Owner)
}

func TestMemoryStoreHeartbeat(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	bookmark := testBookmark("wf_1", "hash-a")
	require.NoError(t, store.CreateBookmark(ctx, bookmark))
	task := &ScheduledTask{
		ID: NewTaskID(), BookmarkID: bookmark.ID, InstanceID: "wf_1",
		Hash: "hash-a", FireAt: now.Add(-time.Second), CreatedAt: now,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	_, err := store.ClaimDueTasks(ctx, "node-1", now, now.Add(-30*time.Second))
	require.NoError(t, err)

	// Heartbeats keep the claim alive past the misfire threshold.
	later := now.Add(time.Minute)
	require.NoError(t, store.Heartbeat(ctx, "node-1", later))
	claimed, err := store.ClaimDueTasks(ctx, "node-2", later.Add(time.Second), later.Add(-30*time.Second))
	require.NoError(t, err)
	require.Empty(t, claimed)
}
