package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/internal/store"
)

var errExtraction = errors.New("extraction boom")

func TestGetTasks_Execute_EmptyListIsSuccess(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	agent := &GetTasks{
		Store:     newFakeStore(),
		Extractor: &fakeExtractor{raw: []byte(`{"range":"today"}`)},
	}

	res, err := agent.Execute(context.Background(), []scratchpad.Entry{userTurn("what do I have today")},
		UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected empty result to be a success, got %+v", res)
	}
	if res.Fields["total_count"] != 0 {
		t.Fatalf("expected total_count 0, got %v", res.Fields["total_count"])
	}
}

func TestGetTasks_Execute_ReturnsTasksInRange(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.tasks["task-1"] = store.Task{
		ID: "task-1", UserID: "u1", Info: map[string]string{"description": "brush teeth"},
		Status: store.TaskPending, TimeToExecute: time.Date(2026, 7, 29, 20, 0, 0, 0, time.UTC),
	}
	st.tasks["task-2"] = store.Task{
		ID: "task-2", UserID: "u1", Info: map[string]string{"description": "far off"},
		Status: store.TaskPending, TimeToExecute: time.Date(2026, 8, 5, 20, 0, 0, 0, time.UTC),
	}

	agent := &GetTasks{Store: st, Extractor: &fakeExtractor{raw: []byte(`{"range":"today"}`)}}
	res, err := agent.Execute(context.Background(), []scratchpad.Entry{userTurn("what do I have today")},
		UserConfig{UserID: "u1", Zone: time.UTC, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Fields["total_count"] != 1 {
		t.Fatalf("expected exactly one task in range, got %v", res.Fields["total_count"])
	}
}

func TestGetTasks_Execute_ExtractionFailure(t *testing.T) {
	agent := &GetTasks{Store: newFakeStore(), Extractor: &fakeExtractor{err: errExtraction}}
	res, err := agent.Execute(context.Background(), []scratchpad.Entry{userTurn("tasks?")},
		UserConfig{UserID: "u1", Zone: time.UTC, Now: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
}
