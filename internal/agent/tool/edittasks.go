package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reminderd/reminderd/internal/agent/extract"
	"github.com/reminderd/reminderd/internal/agent/tool/reltime"
	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/internal/store"
)

const editTasksName = EditTasksName

// EditTasks is the edit-tasks agent: edits the status, description, or
// execution time of a task the user has already seen in this conversation
// (surfaced by a prior get-tasks or create-tasks result). It never invents a
// task_id and never combines a completion with any other field change.
type EditTasks struct {
	Store     store.Store
	Extractor extract.Extractor
}

var _ Agent = (*EditTasks)(nil)

func (a *EditTasks) Name() string { return editTasksName }

func (a *EditTasks) Description() string {
	return "Edit an existing task's status, description, or time to execute. Use this when the user clearly " +
		"indicates they completed a task (mark it completed), or wants to put it off (defer it by 5 minutes). " +
		"This tool requires a task_id already visible in this conversation from a prior get-tasks or create-tasks " +
		"result; never use it to create a new task or to answer a read-only query."
}

// knownTask is a task this conversation has already surfaced, available as a
// candidate for an edit or delete by task_id.
type knownTask struct {
	ID            string
	Description   string
	Status        string
	TimeToExecute time.Time
}

type editArgs struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	TaskInfo string `json:"task_info"`
	Defer    bool   `json:"defer"`
}

func (a *EditTasks) Execute(ctx context.Context, snap []scratchpad.Entry, cfg UserConfig) (Result, error) {
	known := knownTasksFromScratchpad(snap, createTasksName, getTasksName, editTasksName)
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
			"Select the task_id the user means (match by description if they refer to a task by name). "+
			"Set status to \"completed\" only if the user clearly states they finished the task; set defer to "+
			"true only if the user wants to put the task off; set task_info only if the user wants to change "+
			"the description. When marking a task completed, do not also set task_info or defer.",
		lastUserTurn(snap), listing,
	)

	raw, err := a.Extractor.Extract(ctx, extract.Request{
		SystemPrompt:    systemPrompt,
		ToolName:        editTasksName,
		ToolDescription: a.Description(),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id":   map[string]any{"type": "string", "enum": ids},
				"status":    map[string]any{"type": "string", "enum": []string{"", "pending", "completed"}},
				"task_info": map[string]any{"type": "string"},
				"defer":     map[string]any{"type": "boolean"},
			},
			"required": []string{"task_id"},
		},
	})
	if err != nil {
		return Result{Success: false, Message: "could not determine which task to edit: " + err.Error()}, nil
	}

	var args editArgs
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

	if args.Status == "completed" && (args.TaskInfo != "" || args.Defer) {
		return Result{
			Success: false,
			Message: "marking a task completed must not also change its description or time",
		}, nil
	}
	if args.Status == "" && args.TaskInfo == "" && !args.Defer {
		return Result{Success: false, Message: "at least one of status, task_info, or defer must be set"}, nil
	}

	patch := store.TaskPatch{}
	if args.Status != "" {
		status := store.TaskStatus(args.Status)
		patch.Status = &status
	}
	if args.TaskInfo != "" {
		patch.Info = map[string]string{"info": args.TaskInfo}
	}
	var newTime time.Time
	if args.Defer {
		newTime = reltime.Defer(target.TimeToExecute, cfg.Now)
		patch.TimeToExecute = &newTime
	}

	if err := a.Store.UpdateTask(ctx, cfg.UserID, target.ID, patch); err != nil {
		return Result{Success: false, Message: "could not update task: " + err.Error()}, nil
	}

	resultStatus := target.Status
	if args.Status != "" {
		resultStatus = args.Status
	}
	resultInfo := target.Description
	if args.TaskInfo != "" {
		resultInfo = args.TaskInfo
	}
	resultTime := target.TimeToExecute
	if args.Defer {
		resultTime = newTime
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("task %s updated", target.ID),
		Fields: map[string]any{
			"task_id":         target.ID,
			"task_info":       map[string]string{"info": resultInfo},
			"status":          resultStatus,
			"time_to_execute": resultTime.Format(time.RFC3339),
		},
	}, nil
}

// knownTasksFromScratchpad scans snap for function_call results of the named
// tools and collects the tasks they surfaced, deduplicated by task_id with
// later entries (more recent) winning.
func knownTasksFromScratchpad(snap []scratchpad.Entry, toolNames ...string) []knownTask {
	isTracked := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		isTracked[n] = true
	}

	byID := make(map[string]knownTask)
	var order []string
	record := func(t knownTask) {
		if t.ID == "" {
			return
		}
		if _, exists := byID[t.ID]; !exists {
			order = append(order, t.ID)
		}
		byID[t.ID] = t
	}

	for _, e := range snap {
		if e.Kind != scratchpad.KindFunctionCall || !isTracked[e.Name] {
			continue
		}
		switch e.Name {
		case getTasksName:
			var r struct {
				Tasks []struct {
					TaskID        string            `json:"task_id"`
					TaskInfo      map[string]string `json:"task_info"`
					Status        string            `json:"status"`
					TimeToExecute string            `json:"time_to_execute"`
				} `json:"tasks"`
			}
			if json.Unmarshal([]byte(e.Response), &r) != nil {
				continue
			}
			for _, t := range r.Tasks {
				ts, _ := time.Parse(time.RFC3339, t.TimeToExecute)
				record(knownTask{ID: t.TaskID, Description: t.TaskInfo["info"], Status: t.Status, TimeToExecute: ts})
			}
		default:
			var r struct {
				Success       bool              `json:"success"`
				TaskID        string            `json:"task_id"`
				TaskInfo      map[string]string `json:"task_info"`
				Status        string            `json:"status"`
				TimeToExecute string            `json:"time_to_execute"`
			}
			if json.Unmarshal([]byte(e.Response), &r) != nil || !r.Success {
				continue
			}
			ts, _ := time.Parse(time.RFC3339, r.TimeToExecute)
			record(knownTask{ID: r.TaskID, Description: r.TaskInfo["info"], Status: r.Status, TimeToExecute: ts})
		}
	}

	out := make([]knownTask, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func findKnownTask(known []knownTask, id string) (knownTask, bool) {
	for _, t := range known {
		if t.ID == id {
			return t, true
		}
	}
	return knownTask{}, false
}
