// Package pgstore is a PostgreSQL-backed implementation of [store.Store].
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/store"
)

// Schema is the SQL DDL for the tables described in spec §6's "Persisted
// schema (essentials)".
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id         TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    task_info       JSONB NOT NULL DEFAULT '{}',
    status          TEXT NOT NULL DEFAULT 'pending',
    time_to_execute TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_range ON tasks(user_id, time_to_execute);

CREATE TABLE IF NOT EXISTS sessions (
    user_id    TEXT PRIMARY KEY,
    is_active  BOOLEAN NOT NULL DEFAULT false,
    scratchpad JSONB
);

CREATE TABLE IF NOT EXISTS messages (
    chat_id    TEXT NOT NULL,
    message_id TEXT NOT NULL,
    sender_id  TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_read    BOOLEAN NOT NULL DEFAULT false,
    PRIMARY KEY (chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_unread ON messages(chat_id, is_read);

CREATE TABLE IF NOT EXISTS pending_text_message_jobs (
    user_id    TEXT NOT NULL,
    message_id TEXT NOT NULL,
    PRIMARY KEY (user_id, message_id)
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [store.Store] backed by PostgreSQL via pgx.
type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

// New creates a [Store] that uses the given database connection or pool.
// Call [Store.Migrate] to ensure the schema exists before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes [Schema] against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) ListTasksByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]store.Task, error) {
	const query = `
		SELECT task_id, user_id, task_info, status, time_to_execute
		FROM tasks
		WHERE user_id = $1 AND time_to_execute >= $2 AND time_to_execute <= $3
		ORDER BY time_to_execute`

	rows, err := s.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: pgstore: list tasks: %v", errs.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var tasks []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pgstore: list tasks: %v", errs.ErrStoreUnavailable, err)
	}
	return tasks, nil
}

func (s *Store) GetTask(ctx context.Context, userID, taskID string) (store.Task, error) {
	const query = `
		SELECT task_id, user_id, task_info, status, time_to_execute
		FROM tasks
		WHERE user_id = $1 AND task_id = $2`

	row := s.db.QueryRow(ctx, query, userID, taskID)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Task{}, fmt.Errorf("pgstore: get task %q: %w", taskID, errs.ErrNotFound)
		}
		return store.Task{}, fmt.Errorf("%w: pgstore: get task: %v", errs.ErrStoreUnavailable, err)
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, t store.Task) (string, error) {
	infoJSON, err := json.Marshal(emptyMap(t.Info))
	if err != nil {
		return "", fmt.Errorf("pgstore: marshal task_info: %w", err)
	}
	if t.Status == "" {
		t.Status = store.TaskPending
	}

	const query = `
		INSERT INTO tasks (task_id, user_id, task_info, status, time_to_execute)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4)
		RETURNING task_id`

	var id string
	err = s.db.QueryRow(ctx, query, t.UserID, infoJSON, string(t.Status), t.TimeToExecute).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%w: pgstore: create task: %v", errs.ErrStoreUnavailable, err)
	}
	return id, nil
}

func (s *Store) UpdateTask(ctx context.Context, userID, taskID string, patch store.TaskPatch) error {
	current, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}

	if patch.Info != nil {
		current.Info = patch.Info
	}
	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.TimeToExecute != nil {
		current.TimeToExecute = *patch.TimeToExecute
	}

	infoJSON, err := json.Marshal(emptyMap(current.Info))
	if err != nil {
		return fmt.Errorf("pgstore: marshal task_info: %w", err)
	}

	const query = `
		UPDATE tasks SET task_info = $3, status = $4, time_to_execute = $5
		WHERE user_id = $1 AND task_id = $2`

	tag, err := s.db.Exec(ctx, query, userID, taskID, infoJSON, string(current.Status), current.TimeToExecute)
	if err != nil {
		return fmt.Errorf("%w: pgstore: update task: %v", errs.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: update task %q: %w", taskID, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, userID, taskID string) error {
	const query = `DELETE FROM tasks WHERE user_id = $1 AND task_id = $2`
	tag, err := s.db.Exec(ctx, query, userID, taskID)
	if err != nil {
		return fmt.Errorf("%w: pgstore: delete task: %v", errs.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: delete task %q: %w", taskID, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, userID string) (store.Session, error) {
	const query = `SELECT user_id, is_active, scratchpad FROM sessions WHERE user_id = $1`
	var sess store.Session
	err := s.db.QueryRow(ctx, query, userID).Scan(&sess.UserID, &sess.IsActive, &sess.Scratchpad)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := s.CreateSession(ctx, userID); err != nil {
				return store.Session{}, err
			}
			return store.Session{UserID: userID, IsActive: false}, nil
		}
		return store.Session{}, fmt.Errorf("%w: pgstore: get session: %v", errs.ErrStoreUnavailable, err)
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string) error {
	const query = `INSERT INTO sessions (user_id, is_active) VALUES ($1, false) ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%w: pgstore: create session: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) SetSessionActive(ctx context.Context, userID string, active bool) error {
	const query = `
		INSERT INTO sessions (user_id, is_active) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET is_active = EXCLUDED.is_active`
	if _, err := s.db.Exec(ctx, query, userID, active); err != nil {
		return fmt.Errorf("%w: pgstore: set session active: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m store.Message) (string, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO messages (chat_id, message_id, sender_id, content, created_at, is_read)
		VALUES ($1, gen_random_uuid()::text, $2, $3, $4, false)
		RETURNING message_id`

	var id string
	err := s.db.QueryRow(ctx, query, m.ChatID, m.SenderID, m.Content, m.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%w: pgstore: create message: %v", errs.ErrStoreUnavailable, err)
	}
	return id, nil
}

func (s *Store) ListUnreadMessagesForChat(ctx context.Context, chatID string) ([]store.Message, error) {
	const query = `
		SELECT chat_id, message_id, sender_id, content, created_at, is_read
		FROM messages
		WHERE chat_id = $1 AND is_read = false
		ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: pgstore: list unread messages: %v", errs.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, fmt.Errorf("%w: pgstore: scan message: %v", errs.ErrStoreUnavailable, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pgstore: list unread messages: %v", errs.ErrStoreUnavailable, err)
	}
	return msgs, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, chatID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	const query = `UPDATE messages SET is_read = true WHERE chat_id = $1 AND message_id = ANY($2)`
	if _, err := s.db.Exec(ctx, query, chatID, messageIDs); err != nil {
		return fmt.Errorf("%w: pgstore: mark messages read: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// TryClaimPendingDelivery performs a conditional insert: it inserts the
// (userID, messageID) row only if no row for userID exists yet, using
// INSERT ... SELECT ... WHERE NOT EXISTS rather than a unique-constraint
// race-then-check, so the caller learns the outcome from a single
// round-trip.
func (s *Store) TryClaimPendingDelivery(ctx context.Context, userID, messageID string) (bool, error) {
	const query = `
		INSERT INTO pending_text_message_jobs (user_id, message_id)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM pending_text_message_jobs WHERE user_id = $1
		)`

	tag, err := s.db.Exec(ctx, query, userID, messageID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: pgstore: claim pending delivery: %v", errs.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ClearPendingDelivery(ctx context.Context, userID string) error {
	const query = `DELETE FROM pending_text_message_jobs WHERE user_id = $1`
	if _, err := s.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%w: pgstore: clear pending delivery: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// scanTask scans a store.Task from pgx.Rows.
func scanTask(rows pgx.Rows) (store.Task, error) {
	var t store.Task
	var infoJSON []byte
	var status string
	if err := rows.Scan(&t.ID, &t.UserID, &infoJSON, &status, &t.TimeToExecute); err != nil {
		return store.Task{}, fmt.Errorf("%w: pgstore: scan task: %v", errs.ErrStoreUnavailable, err)
	}
	t.Status = store.TaskStatus(status)
	if err := json.Unmarshal(infoJSON, &t.Info); err != nil {
		return store.Task{}, fmt.Errorf("pgstore: unmarshal task_info: %w", err)
	}
	return t, nil
}

// scanTaskRow scans a store.Task from a single pgx.Row.
func scanTaskRow(row pgx.Row) (store.Task, error) {
	var t store.Task
	var infoJSON []byte
	var status string
	if err := row.Scan(&t.ID, &t.UserID, &infoJSON, &status, &t.TimeToExecute); err != nil {
		return store.Task{}, err
	}
	t.Status = store.TaskStatus(status)
	if err := json.Unmarshal(infoJSON, &t.Info); err != nil {
		return store.Task{}, fmt.Errorf("pgstore: unmarshal task_info: %w", err)
	}
	return t, nil
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
