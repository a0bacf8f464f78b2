// Package store declares the typed CRUD contract over persisted tasks,
// sessions, messages, and the pending-delivery coordination table (C1).
//
// Implementations (see [github.com/reminderd/reminderd/internal/store/pgstore])
// must be safe for concurrent use and must translate driver-specific failures
// into the sentinel errors in [github.com/reminderd/reminderd/internal/core/errs].
// Times are stored exactly as supplied, offset included; conversion to a
// user's display zone happens only at presentation, never in the store.
package store

import (
	"context"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// Task is a single reminder/task row.
type Task struct {
	ID     string
	UserID string

	// Info is a small free-form key/value payload, minimally containing a
	// human description under the "description" key.
	Info map[string]string

	Status        TaskStatus
	TimeToExecute time.Time
}

// TaskPatch describes a partial update to a Task. Nil fields are left
// unchanged; non-nil fields replace the stored value in full.
type TaskPatch struct {
	Info          map[string]string
	Status        *TaskStatus
	TimeToExecute *time.Time
}

// Session is the one-row-per-user gateway session state.
type Session struct {
	UserID   string
	IsActive bool

	// Scratchpad is an optional transient snapshot persisted for diagnostics
	// or reconnection. The gateway is the authority on live session state;
	// this column is not read back into a live scratchpad.
	Scratchpad []byte
}

// Message is a single chat message row.
type Message struct {
	ChatID    string
	MessageID string
	SenderID  string
	Content   string
	CreatedAt time.Time
	IsRead    bool
}

// Store is the typed persistence contract the dispatch core depends on.
// All operations are synchronous from the caller's perspective; callers
// running inside a cooperative scheduler (the gateway's three tasks) must
// invoke these from a worker so a slow round-trip cannot stall the
// scheduler (§5 suspension points).
type Store interface {
	// ListTasksByUserInRange returns tasks for userID whose TimeToExecute
	// falls within [from, to], inclusive, in no particular order.
	ListTasksByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]Task, error)

	// GetTask returns the task identified by (userID, taskID).
	// Returns errs.ErrNotFound if no such task exists.
	GetTask(ctx context.Context, userID, taskID string) (Task, error)

	// CreateTask persists a new task and returns its generated ID.
	CreateTask(ctx context.Context, t Task) (string, error)

	// UpdateTask applies patch to the task identified by (userID, taskID).
	// Returns errs.ErrNotFound if no such task exists.
	UpdateTask(ctx context.Context, userID, taskID string, patch TaskPatch) error

	// DeleteTask removes the task identified by (userID, taskID).
	// Returns errs.ErrNotFound if no such task exists.
	DeleteTask(ctx context.Context, userID, taskID string) error

	// GetSession returns the session row for userID, creating an inactive
	// one implicitly if none exists yet — mirrors GetOrCreate semantics used
	// by the gateway on connect.
	GetSession(ctx context.Context, userID string) (Session, error)

	// CreateSession inserts a session row for userID if one does not already
	// exist. Safe to call when a row already exists; it is a no-op then.
	CreateSession(ctx context.Context, userID string) error

	// SetSessionActive flips the is_active flag for userID.
	SetSessionActive(ctx context.Context, userID string, active bool) error

	// CreateMessage persists a new chat message and returns its generated
	// message ID. CreatedAt is assigned by the store if the zero value is
	// supplied.
	CreateMessage(ctx context.Context, m Message) (string, error)

	// ListUnreadMessagesForChat returns unread messages for chatID in
	// creation order.
	ListUnreadMessagesForChat(ctx context.Context, chatID string) ([]Message, error)

	// MarkMessagesRead flips is_read for the given message IDs within
	// chatID. Unknown IDs are ignored.
	MarkMessagesRead(ctx context.Context, chatID string, messageIDs []string) error

	// TryClaimPendingDelivery performs a conditional insert of (userID,
	// messageID) into the pending-delivery table. Returns true if the
	// caller's insert won the race (no prior row existed), false if a row
	// already existed. This is the sole serialization point preventing
	// duplicate text-message wake jobs (Invariant 5).
	TryClaimPendingDelivery(ctx context.Context, userID, messageID string) (bool, error)

	// ClearPendingDelivery removes the pending-delivery row for userID, if
	// any. Called by the gateway only after it has surfaced the message set
	// to the model, never by the producer.
	ClearPendingDelivery(ctx context.Context, userID string) error
}
