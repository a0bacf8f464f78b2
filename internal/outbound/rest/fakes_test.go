package rest

import (
	"context"
	"time"

	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/store"
)

type fakeStore struct {
	tasks    map[string]store.Task
	messages []store.Message
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]store.Task{}}
}

func (s *fakeStore) ListTasksByUserInRange(ctx context.Context, userID string, from, to time.Time) ([]store.Task, error) {
	var out []store.Task
	for _, t := range s.tasks {
		if t.UserID == userID && !t.TimeToExecute.Before(from) && !t.TimeToExecute.After(to) {
			out = append(out, t)
		}
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
	s.nextID++
	id := "task-" + string(rune('0'+s.nextID))
	t.ID = id
	s.tasks[id] = t
	return id, nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, userID, taskID string, patch store.TaskPatch) error {
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
	s.nextID++
	m.MessageID = "msg-" + string(rune('0'+s.nextID))
	s.messages = append(s.messages, m)
	return m.MessageID, nil
}

func (s *fakeStore) ListUnreadMessagesForChat(ctx context.Context, chatID string) ([]store.Message, error) {
	var out []store.Message
	for _, m := range s.messages {
		if m.ChatID == chatID && !m.IsRead {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkMessagesRead(ctx context.Context, chatID string, messageIDs []string) error {
	return nil
}

func (s *fakeStore) TryClaimPendingDelivery(ctx context.Context, userID, messageID string) (bool, error) {
	return true, nil
}

func (s *fakeStore) ClearPendingDelivery(ctx context.Context, userID string) error { return nil }

var _ store.Store = (*fakeStore)(nil)

type fakeEnqueuer struct {
	enqueueTaskErr error
	enqueuedTasks  []string

	enqueueMessageResult bool
	enqueueMessageErr    error
}

func (f *fakeEnqueuer) EnqueueTask(ctx context.Context, taskID, userID string, info map[string]string, executeAt time.Time) error {
	if f.enqueueTaskErr != nil {
		return f.enqueueTaskErr
	}
	f.enqueuedTasks = append(f.enqueuedTasks, taskID)
	return nil
}

func (f *fakeEnqueuer) EnqueueTextMessage(ctx context.Context, userID, chatID, messageID string) (bool, error) {
	if f.enqueueMessageErr != nil {
		return false, f.enqueueMessageErr
	}
	return f.enqueueMessageResult, nil
}
