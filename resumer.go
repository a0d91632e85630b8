package conductor

import (
	"context"
	"fmt"
	"time"
)

// ResumeOutcome classifies the result of delivering a stimulus to one
// matched bookmark.
type ResumeOutcome string

const (
	// ResumeOutcomeResumed means the bookmark's instance ran a burst.
	ResumeOutcomeResumed ResumeOutcome = "resumed"

	// ResumeOutcomeNotFound means no live bookmark matched by the time the
	// instance lock was held. The stimulus is dropped for this target.
	ResumeOutcomeNotFound ResumeOutcome = "not_found"

	// ResumeOutcomeInProgress means another node holds the instance lock.
	// The caller may retry delivery.
	ResumeOutcomeInProgress ResumeOutcome = "in_progress"
)

// ResumeResult reports what happened for one matched bookmark.
type ResumeResult struct {
	Outcome    ResumeOutcome
	InstanceID string
	BookmarkID string
	Hash       string
}

// Resume hashes the stimulus and delivers it to every matching bookmark.
// Matching is exact on the stimulus hash, so an emitter and a waiter agree
// on a stimulus only when activity type, bookmark name, payload, and
// correlation id all coincide. The stimulus input, when set, is what the
// resumed activities receive; otherwise they receive the matching payload.
func (e *Engine) Resume(ctx context.Context, stimulus Stimulus) ([]*ResumeResult, error) {
	hash, err := stimulus.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash stimulus: %w", err)
	}
	input := stimulus.Input
	if input == nil {
		input = stimulus.Payload
	}
	return e.ResumeHash(ctx, hash, input)
}

// ResumeHash delivers a stimulus identified by its precomputed hash.
// Every currently-matching bookmark is resumed in turn, each under its own
// instance lock. Multiple instances suspended on the same hash all wake:
// delivery is a broadcast, not a queue.
func (e *Engine) ResumeHash(ctx context.Context, hash string, payload map[string]any) ([]*ResumeResult, error) {
	matches, err := e.store.FindBookmarksByHash(ctx, hash, BookmarkFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to find bookmarks: %w", err)
	}
	if len(matches) == 0 {
		return []*ResumeResult{{Outcome: ResumeOutcomeNotFound, Hash: hash}}, nil
	}

	results := make([]*ResumeResult, 0, len(matches))
	for _, bookmark := range matches {
		result, err := e.resumeBookmark(ctx, bookmark, payload)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// resumeBookmark wakes the instance owning one bookmark. The bookmark is
// revalidated after the lock is held: a concurrent delivery may have
// already burned it, in which case this delivery reports NotFound instead
// of waking the instance twice.
func (e *Engine) resumeBookmark(ctx context.Context, bookmark *Bookmark, payload map[string]any) (*ResumeResult, error) {
	result := &ResumeResult{
		InstanceID: bookmark.InstanceID,
		BookmarkID: bookmark.ID,
		Hash:       bookmark.Hash,
	}

	lease, err := e.acquireInstanceLock(ctx, bookmark.InstanceID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		result.Outcome = ResumeOutcomeInProgress
		return result, nil
	}
	defer e.releaseLease(ctx, lease)

	current, err := e.findLiveBookmark(ctx, bookmark)
	if err != nil {
		return nil, err
	}
	if current == nil {
		result.Outcome = ResumeOutcomeNotFound
		return result, nil
	}

	instance, err := e.store.LoadInstance(ctx, bookmark.InstanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status.Terminal() {
		// A bookmark outliving its instance is residue, clean it up.
		if err := e.store.DeleteBookmark(ctx, current.ID); err != nil {
			return nil, err
		}
		result.Outcome = ResumeOutcomeNotFound
		return result, nil
	}

	def, err := e.Definition(instance.DefinitionID, instance.DefinitionVersion)
	if err != nil {
		return nil, err
	}
	outstanding, err := e.store.FindBookmarksByInstance(ctx, instance.ID)
	if err != nil {
		return nil, err
	}

	execution, err := NewExecution(ExecutionOptions{
		Definition: def,
		Instance:   instance,
		Registry:   e.registry,
		Compiler:   e.compiler,
		Logger:     e.logger,
		Callbacks:  e.callbacks,
		Recorder:   e.recorder,
		Bookmarks:  outstanding,
	})
	if err != nil {
		return nil, err
	}
	if err := execution.ScheduleResume(current, payload); err != nil {
		return nil, err
	}

	burst, err := execution.RunBurst(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.commitBurst(ctx, lease, burst, false); err != nil {
		return nil, err
	}

	result.Outcome = ResumeOutcomeResumed
	return result, nil
}

// findLiveBookmark re-reads a bookmark by id under the instance lock.
func (e *Engine) findLiveBookmark(ctx context.Context, bookmark *Bookmark) (*Bookmark, error) {
	outstanding, err := e.store.FindBookmarksByInstance(ctx, bookmark.InstanceID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, candidate := range outstanding {
		if candidate.ID != bookmark.ID {
			continue
		}
		if candidate.Expired(now) {
			if err := e.store.DeleteBookmark(ctx, candidate.ID); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return candidate, nil
	}
	return nil, nil
}
