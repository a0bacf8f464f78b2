package tool

import (
	"context"
	"testing"
	"time"

	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/internal/store"
)

func getTasksResultEntry(taskID, description, status, timeToExecute string) scratchpad.Entry {
	return scratchpad.Entry{
		Source: "assistant", Kind: scratchpad.KindFunctionCall, Name: getTasksName,
		Response: `{"tasks":[{"task_id":"` + taskID + `","task_info":{"info":"` + description +
			`"},"status":"` + status + `","time_to_execute":"` + timeToExecute + `"}],"total_count":1}`,
	}
}

func TestEditTasks_Execute_MarkCompleted(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.tasks["task-1"] = store.Task{
		ID: "task-1", UserID: "u1", Info: map[string]string{"description": "brush teeth"},
		Status: store.TaskPending, TimeToExecute: time.Date(2026, 7, 29, 20, 0, 0, 0, time.UTC),
	}
	snap := []scratchpad.Entry{
		getTasksResultEntry("task-1", "brush teeth", "pending", "2026-07-29T20:00:00Z"),
		userTurn("I already brushed my teeth"),
	}
	agent := &EditTasks{Store: st, Extractor: &fakeExtractor{raw: []byte(`{"task_id":"task-1","status":"completed"}`)}}

	res, err := agent.Execute(context.Background(), snap, UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if st.tasks["task-1"].Status != store.TaskCompleted {
		t.Fatalf("expected task marked completed, got %v", st.tasks["task-1"].Status)
	}
}

func TestEditTasks_Execute_CompletedWithOtherFieldsRejected(t *testing.T) {
	st := newFakeStore()
	st.tasks["task-1"] = store.Task{ID: "task-1", UserID: "u1", Info: map[string]string{"description": "brush teeth"}}
	snap := []scratchpad.Entry{getTasksResultEntry("task-1", "brush teeth", "pending", "2026-07-29T20:00:00Z")}
	agent := &EditTasks{
		Store:     st,
		Extractor: &fakeExtractor{raw: []byte(`{"task_id":"task-1","status":"completed","task_info":"new desc"}`)},
	}

	res, err := agent.Execute(context.Background(), snap, UserConfig{UserID: "u1", Zone: time.UTC, Now: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected rejection when completing alongside other field changes, got %+v", res)
	}
}

func TestEditTasks_Execute_Defer(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	st := newFakeStore()
	stored := time.Date(2026, 7, 29, 9, 10, 0, 0, time.UTC)
	st.tasks["task-1"] = store.Task{
		ID: "task-1", UserID: "u1", Info: map[string]string{"description": "brush teeth"},
		Status: store.TaskPending, TimeToExecute: stored,
	}
	snap := []scratchpad.Entry{getTasksResultEntry("task-1", "brush teeth", "pending", stored.Format(time.RFC3339))}
	agent := &EditTasks{Store: st, Extractor: &fakeExtractor{raw: []byte(`{"task_id":"task-1","defer":true}`)}}

	res, err := agent.Execute(context.Background(), snap, UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	want := stored.Add(5 * time.Minute)
	if !st.tasks["task-1"].TimeToExecute.Equal(want) {
		t.Fatalf("expected deferred time %v, got %v", want, st.tasks["task-1"].TimeToExecute)
	}
}

func TestEditTasks_Execute_NoKnownTasks(t *testing.T) {
	agent := &EditTasks{Store: newFakeStore(), Extractor: &fakeExtractor{}}
	res, err := agent.Execute(context.Background(), nil, UserConfig{UserID: "u1", Zone: time.UTC, Now: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure with no known tasks, got %+v", res)
	}
}
