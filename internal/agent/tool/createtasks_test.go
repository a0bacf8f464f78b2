package tool

import (
	"context"
	"testing"
	"time"

	"github.com/reminderd/reminderd/internal/scratchpad"
)

func userTurn(content string) scratchpad.Entry {
	return scratchpad.Entry{Source: "user", Kind: scratchpad.KindText, Content: content}
}

func TestCreateTasks_Execute_Success(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	st := newFakeStore()
	enq := &fakeEnqueuer{}
	agent := &CreateTasks{
		Store:     st,
		Extractor: &fakeExtractor{raw: []byte(`{"info":"brush teeth","date_part":"tonight","hour":20,"minute":0}`)},
		Enqueuer:  enq,
	}

	res, err := agent.Execute(context.Background(), []scratchpad.Entry{userTurn("remind me to brush my teeth tonight at 8pm")},
		UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if enq.calls != 1 {
		t.Fatalf("expected one enqueue call, got %d", enq.calls)
	}
	if len(st.tasks) != 1 {
		t.Fatalf("expected one stored task, got %d", len(st.tasks))
	}
}

func TestCreateTasks_Execute_PastTimeIsInvalid(t *testing.T) {
	now := time.Date(2026, 7, 29, 21, 0, 0, 0, time.UTC)
	agent := &CreateTasks{
		Store:     newFakeStore(),
		Extractor: &fakeExtractor{raw: []byte(`{"info":"brush teeth","date_part":"today","hour":8,"minute":0}`)},
		Enqueuer:  &fakeEnqueuer{},
	}

	res, err := agent.Execute(context.Background(), []scratchpad.Entry{userTurn("remind me to brush my teeth at 8am")},
		UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Status != "invalid_time" {
		t.Fatalf("expected invalid_time failure, got %+v", res)
	}
}

func TestCreateTasks_Execute_DuplicateDescriptionAlreadyCreated(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	snap := []scratchpad.Entry{
		userTurn("remind me to brush my teeth tonight"),
		{
			Source: "assistant", Kind: scratchpad.KindFunctionCall, Name: createTasksName,
			Response: `{"success":true,"task_id":"task-1","task_info":{"info":"brush teeth"}}`,
		},
	}
	agent := &CreateTasks{
		Store:     newFakeStore(),
		Extractor: &fakeExtractor{raw: []byte(`{"info":"Brush Teeth","date_part":"tonight","hour":20,"minute":0}`)},
		Enqueuer:  &fakeEnqueuer{},
	}

	res, err := agent.Execute(context.Background(), snap, UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Status != "all_tasks_created" {
		t.Fatalf("expected all_tasks_created failure, got %+v", res)
	}
}

func TestCreateTasks_Execute_NoUserTurn(t *testing.T) {
	agent := &CreateTasks{Store: newFakeStore(), Extractor: &fakeExtractor{}, Enqueuer: &fakeEnqueuer{}}
	res, err := agent.Execute(context.Background(), nil, UserConfig{UserID: "u1", Zone: time.UTC, Now: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure with no user turn, got %+v", res)
	}
}
