package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reminderd/reminderd/internal/agent/extract"
	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/internal/store"
)

const deleteTasksName = DeleteTasksName

// DeleteTasks is the delete-tasks agent: removes a task the user has
// explicitly asked to delete, cancel, or remove. Like EditTasks it requires a
// task_id already surfaced in this conversation and disambiguates by
// description and time_to_execute when several known tasks share a
// description.
type DeleteTasks struct {
	Store     store.Store
	Extractor extract.Extractor
}

var _ Agent = (*DeleteTasks)(nil)

func (a *DeleteTasks) Name() string { return deleteTasksName }

func (a *DeleteTasks) Description() string {
	return "Delete an existing task. Use this tool only when the user explicitly asks to delete, remove, or " +
		"cancel a task. Requires a task_id already visible in this conversation from a prior get-tasks or " +
		"create-tasks result; match by both description and time when more than one known task shares a " +
		"description. Never use this to create or read tasks."
}

type deleteArgs struct {
	TaskID string `json:"task_id"`
}

func (a *DeleteTasks) Execute(ctx context.Context, snap []scratchpad.Entry, cfg UserConfig) (Result, error) {
	known := knownTasksFromScratchpad(snap, createTasksName, getTasksName, editTasksName, deleteTasksName)
	if len(known) == 0 {
		return Result{
			Success: false,
			Message: "no task_id is available from this conversation; retrieve tasks first",
		}, nil
	}

	ids := make([]any, 0, len(known))
	var listing string
	for _, t := range known {
		ids = append(ids, t.ID)
		listing += fmt.Sprintf("task_id=%s description=%q status=%s time_to_execute=%s\n",
			t.ID, t.Description, t.Status, t.TimeToExecute.Format(time.RFC3339))
	}

	systemPrompt := fmt.Sprintf(
		"The user's most recent message is: %q. The tasks known from this conversation are:\n%s\n"+
			"Select the task_id the user wants deleted. Match on both description and time_to_execute when "+
			"more than one known task shares a description.",
		lastUserTurn(snap), listing,
	)

	raw, err := a.Extractor.Extract(ctx, extract.Request{
		SystemPrompt:    systemPrompt,
		ToolName:        deleteTasksName,
		ToolDescription: a.Description(),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string", "enum": ids},
			},
			"required": []string{"task_id"},
		},
	})
	if err != nil {
		return Result{Success: false, Message: "could not determine which task to delete: " + err.Error()}, nil
	}

	var args deleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Success: false, Message: "malformed extraction result: " + err.Error()}, nil
	}

	target, ok := findKnownTask(known, args.TaskID)
	if !ok {
		return Result{
			Success: false,
			Message: fmt.Sprintf("task %q was not found among tasks surfaced in this conversation", args.TaskID),
		}, nil
	}

	if err := a.Store.DeleteTask(ctx, cfg.UserID, target.ID); err != nil {
		return Result{Success: false, Message: "could not delete task: " + err.Error()}, nil
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("task %s deleted", target.ID),
		Fields: map[string]any{
			"task_id": target.ID,
		},
	}, nil
}
