package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reminderd/reminderd/internal/agent/extract"
	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/store"
)

// fakeExtractor returns a fixed JSON payload, or a fixed error, regardless of
// the request — tests assert on Execute's reaction to each.
type fakeExtractor struct {
	raw json.RawMessage
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.raw, nil
}

// fakeStore is an in-memory store.Store sufficient for tool-agent tests.
type fakeStore struct {
	tasks    map[string]store.Task
	nextID   int
	createErr error
	updateErr error
	deleteErr error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]store.Task)}
}

func (s *fakeStore) ListTasksByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]store.Task, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.Task
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		if t.TimeToExecute.Before(from) || t.TimeToExecute.After(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) GetTask(ctx context.Context, userID, taskID string) (store.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return store.Task{}, errs.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) CreateTask(ctx context.Context, t store.Task) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	id := fmt.Sprintf("task-%d", s.nextID)
	t.ID = id
	s.tasks[id] = t
	return id, nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, userID, taskID string, patch store.TaskPatch) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return errs.ErrNotFound
	}
	if patch.Info != nil {
		t.Info = patch.Info
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.TimeToExecute != nil {
		t.TimeToExecute = *patch.TimeToExecute
	}
	s.tasks[taskID] = t
	return nil
}

func (s *fakeStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return errs.ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, userID string) (store.Session, error) {
	return store.Session{UserID: userID}, nil
}

func (s *fakeStore) CreateSession(ctx context.Context, userID string) error { return nil }

func (s *fakeStore) SetSessionActive(ctx context.Context, userID string, active bool) error {
	return nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, m store.Message) (string, error) {
	return "msg-fake", nil
}

func (s *fakeStore) ListUnreadMessagesForChat(ctx context.Context, chatID string) ([]store.Message, error) {
	return nil, nil
}

func (s *fakeStore) MarkMessagesRead(ctx context.Context, chatID string, messageIDs []string) error {
	return nil
}

func (s *fakeStore) TryClaimPendingDelivery(ctx context.Context, userID, messageID string) (bool, error) {
	return true, nil
}

func (s *fakeStore) ClearPendingDelivery(ctx context.Context, userID string) error { return nil }

var _ store.Store = (*fakeStore)(nil)

// fakeEnqueuer records every EnqueueTask call; it never errors unless told to.
type fakeEnqueuer struct {
	calls int
	err   error
}

func (e *fakeEnqueuer) EnqueueTask(ctx context.Context, taskID, userID string, info map[string]string, executeAt time.Time) error {
	e.calls++
	return e.err
}
