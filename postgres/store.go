// Package postgres provides a Store implementation backed by PostgreSQL
// through pgx. Burst commits are applied in a single transaction, so an
// instance snapshot and its bookmark and task changes land together or not
// at all.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepnoodle-ai/conductor"
)

// Schema creates the tables and indexes the store needs. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id                 TEXT PRIMARY KEY,
	definition_id      TEXT NOT NULL,
	definition_version INT NOT NULL,
	status             TEXT NOT NULL,
	correlation_id     TEXT NOT NULL DEFAULT '',
	incident_count     INT NOT NULL DEFAULT 0,
	data               JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_bookmarks (
	id             TEXT PRIMARY KEY,
	instance_id    TEXT NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
	hash           TEXT NOT NULL,
	node_key       TEXT NOT NULL,
	name           TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	data           JSONB NOT NULL,
	expires_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (instance_id, hash)
);

CREATE INDEX IF NOT EXISTS workflow_bookmarks_hash_idx
	ON workflow_bookmarks (hash);

CREATE TABLE IF NOT EXISTS workflow_tasks (
	id           TEXT PRIMARY KEY,
	bookmark_id  TEXT NOT NULL REFERENCES workflow_bookmarks(id) ON DELETE CASCADE,
	instance_id  TEXT NOT NULL,
	hash         TEXT NOT NULL,
	fire_at      TIMESTAMPTZ NOT NULL,
	owner        TEXT NOT NULL DEFAULT '',
	last_checkin TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS workflow_tasks_fire_at_idx
	ON workflow_tasks (fire_at);
`

// Store is a PostgreSQL-backed conductor.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store on an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Setup creates the schema.
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool, e.g. for sharing with an advisory lock
// provider or application queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) CreateInstance(ctx context.Context, instance *conductor.Instance) error {
	return s.insertInstance(ctx, s.pool, instance)
}

func (s *Store) SaveInstance(ctx context.Context, instance *conductor.Instance) error {
	return s.saveInstance(ctx, s.pool, instance)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) insertInstance(ctx context.Context, db execer, instance *conductor.Instance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO workflow_instances
			(id, definition_id, definition_version, status, correlation_id, incident_count, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		instance.ID, instance.DefinitionID, instance.DefinitionVersion,
		string(instance.Status), instance.CorrelationID, len(instance.Incidents),
		data, instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

func (s *Store) saveInstance(ctx context.Context, db execer, instance *conductor.Instance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	tag, err := db.Exec(ctx, `
		UPDATE workflow_instances
		SET status = $2, correlation_id = $3, incident_count = $4, data = $5, updated_at = $6
		WHERE id = $1`,
		instance.ID, string(instance.Status), instance.CorrelationID,
		len(instance.Incidents), data, instance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrInstanceNotFound
	}
	return nil
}

func (s *Store) LoadInstance(ctx context.Context, instanceID string) (*conductor.Instance, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM workflow_instances WHERE id = $1`, instanceID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conductor.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	var instance conductor.Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &instance, nil
}

func (s *Store) ListInstances(ctx context.Context) ([]*conductor.InstanceSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, definition_id, definition_version, status, correlation_id, incident_count, created_at, updated_at
		FROM workflow_instances ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var summaries []*conductor.InstanceSummary
	for rows.Next() {
		var summary conductor.InstanceSummary
		var status string
		if err := rows.Scan(&summary.ID, &summary.DefinitionID, &summary.DefinitionVersion,
			&status, &summary.CorrelationID, &summary.IncidentCount,
			&summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance summary: %w", err)
		}
		summary.Status = conductor.InstanceStatus(status)
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

func (s *Store) CommitBurst(ctx context.Context, commit *conductor.BurstCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if commit.Instance != nil {
		if commit.Create {
			err = s.insertInstance(ctx, tx, commit.Instance)
		} else {
			err = s.saveInstance(ctx, tx, commit.Instance)
		}
		if err != nil {
			return err
		}
	}
	for _, id := range commit.DeleteBookmarks {
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_bookmarks WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete bookmark: %w", err)
		}
	}
	for _, bookmark := range commit.CreateBookmarks {
		if err := s.insertBookmark(ctx, tx, bookmark); err != nil {
			return err
		}
	}
	for _, id := range commit.DeleteTasks {
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_tasks WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
	}
	for _, task := range commit.CreateTasks {
		if err := s.insertTask(ctx, tx, task); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit burst: %w", err)
	}
	return nil
}

func (s *Store) CreateBookmark(ctx context.Context, bookmark *conductor.Bookmark) error {
	return s.insertBookmark(ctx, s.pool, bookmark)
}

func (s *Store) insertBookmark(ctx context.Context, db execer, bookmark *conductor.Bookmark) error {
	data, err := json.Marshal(bookmark)
	if err != nil {
		return fmt.Errorf("failed to marshal bookmark: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO workflow_bookmarks
			(id, instance_id, hash, node_key, name, correlation_id, data, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		bookmark.ID, bookmark.InstanceID, bookmark.Hash, bookmark.NodeKey,
		bookmark.Name, bookmark.CorrelationID, data, bookmark.ExpiresAt, bookmark.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &conductor.DuplicateBookmarkError{
				InstanceID: bookmark.InstanceID,
				Hash:       bookmark.Hash,
			}
		}
		return fmt.Errorf("failed to insert bookmark: %w", err)
	}
	return nil
}

func (s *Store) FindBookmarksByHash(ctx context.Context, hash string, filter conductor.BookmarkFilter) ([]*conductor.Bookmark, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM workflow_bookmarks
		WHERE hash = $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at, id`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer rows.Close()
	return scanBookmarks(rows, filter)
}

func (s *Store) FindBookmarksByInstance(ctx context.Context, instanceID string) ([]*conductor.Bookmark, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM workflow_bookmarks
		WHERE instance_id = $1 ORDER BY created_at, id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer rows.Close()
	return scanBookmarks(rows, conductor.BookmarkFilter{})
}

func scanBookmarks(rows pgx.Rows, filter conductor.BookmarkFilter) ([]*conductor.Bookmark, error) {
	var bookmarks []*conductor.Bookmark
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		var bookmark conductor.Bookmark
		if err := json.Unmarshal(data, &bookmark); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bookmark: %w", err)
		}
		if filter.Matches(&bookmark) {
			bookmarks = append(bookmarks, &bookmark)
		}
	}
	return bookmarks, rows.Err()
}

func (s *Store) DeleteBookmark(ctx context.Context, bookmarkID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_bookmarks WHERE id = $1`, bookmarkID); err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, task *conductor.ScheduledTask) error {
	return s.insertTask(ctx, s.pool, task)
}

func (s *Store) insertTask(ctx context.Context, db execer, task *conductor.ScheduledTask) error {
	var lastCheckin *time.Time
	if !task.LastCheckin.IsZero() {
		lastCheckin = &task.LastCheckin
	}
	_, err := db.Exec(ctx, `
		INSERT INTO workflow_tasks
			(id, bookmark_id, instance_id, hash, fire_at, owner, last_checkin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.BookmarkID, task.InstanceID, task.Hash,
		task.FireAt, task.Owner, lastCheckin, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *Store) ClaimDueTasks(ctx context.Context, owner string, now time.Time, staleBefore time.Time) ([]*conductor.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE workflow_tasks
		SET owner = $1, last_checkin = $2
		WHERE fire_at <= $2
			AND (owner = '' OR owner = $1 OR last_checkin IS NULL OR last_checkin < $3)
		RETURNING id, bookmark_id, instance_id, hash, fire_at, owner, last_checkin, created_at`,
		owner, now, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*conductor.ScheduledTask
	for rows.Next() {
		var task conductor.ScheduledTask
		var lastCheckin *time.Time
		if err := rows.Scan(&task.ID, &task.BookmarkID, &task.InstanceID, &task.Hash,
			&task.FireAt, &task.Owner, &lastCheckin, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if lastCheckin != nil {
			task.LastCheckin = *lastCheckin
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func (s *Store) Heartbeat(ctx context.Context, owner string, now time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE workflow_tasks SET last_checkin = $2 WHERE owner = $1`, owner, now); err != nil {
		return fmt.Errorf("failed to heartbeat tasks: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_tasks WHERE id = $1`, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
