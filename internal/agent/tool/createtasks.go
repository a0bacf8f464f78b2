package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reminderd/reminderd/internal/agent/extract"
	"github.com/reminderd/reminderd/internal/agent/tool/reltime"
	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/internal/store"
)

// TaskEnqueuer publishes a newly created task to the deferred-dispatch
// ingress (C7). Implemented by *dispatch.Dispatcher; declared locally so
// this package does not need to import internal/dispatch.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, taskID, userID string, info map[string]string, executeAt time.Time) error
}

const createTasksName = CreateTasksName

// CreateTasks is the create-task agent: extracts (info, time_to_execute)
// from the most recent user turn and persists a task via the store.
type CreateTasks struct {
	Store     store.Store
	Extractor extract.Extractor
	Enqueuer  TaskEnqueuer
}

var _ Agent = (*CreateTasks)(nil)

func (a *CreateTasks) Name() string { return createTasksName }

func (a *CreateTasks) Description() string {
	return "Create a new task with a description and time to execute. Use this tool ONLY when the user " +
		"explicitly asks to create, schedule, set, or add a task. Never use this for read-only queries like " +
		"'what tasks do I have'. Use at most once per user instruction unless the user asks for multiple tasks."
}

// createArgs is the structured-extraction schema: a free-form description
// plus a relative-time phrase broken into its date part and clock time,
// which Execute resolves deterministically via reltime rather than trusting
// the model's own arithmetic.
type createArgs struct {
	Info     string `json:"info"`
	DatePart string `json:"date_part"`
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
}

func (a *CreateTasks) Execute(ctx context.Context, snap []scratchpad.Entry, cfg UserConfig) (Result, error) {
	mostRecentUser := lastUserTurn(snap)
	if mostRecentUser == "" {
		return Result{Success: false, Message: "no user turn to extract a task from"}, nil
	}

	alreadyCreated := createdDescriptionsSince(snap, mostRecentUser)

	systemPrompt := fmt.Sprintf(
		"The user's most recent message is: %q. Current time for this user is %s (%s), timezone %s.\n"+
			"Extract exactly one task description and its requested time from that message. "+
			"date_part must be one of \"today\", \"tonight\", \"tomorrow\", or empty for a bare clock time. "+
			"hour is 0-23, minute is 0-59, both in the user's local clock.\n"+
			"Already-created descriptions from this message (skip these): %s",
		mostRecentUser, cfg.Now.Format("15:04"), cfg.Now.Format("2006-01-02"), cfg.Zone, strings.Join(alreadyCreated, "; "),
	)

	raw, err := a.Extractor.Extract(ctx, extract.Request{
		SystemPrompt:    systemPrompt,
		ToolName:        createTasksName,
		ToolDescription: a.Description(),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"info":      map[string]any{"type": "string", "description": "The task description."},
				"date_part": map[string]any{"type": "string", "enum": []string{"today", "tonight", "tomorrow", ""}},
				"hour":      map[string]any{"type": "integer"},
				"minute":    map[string]any{"type": "integer"},
			},
			"required": []string{"info", "date_part", "hour", "minute"},
		},
	})
	if err != nil {
		return Result{Success: false, Message: "could not extract task details: " + err.Error()}, nil
	}

	var args createArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Success: false, Message: "malformed extraction result: " + err.Error()}, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(args.Info))
	for _, done := range alreadyCreated {
		if done == normalized {
			return Result{
				Success: false,
				Status:  "all_tasks_created",
				Message: "all tasks from the most recent user message have already been created",
			}, nil
		}
	}

	execTime, err := reltime.Resolve(cfg.Now, reltime.DatePart(args.DatePart), args.Hour, args.Minute)
	if err != nil {
		return Result{
			Success: false,
			Status:  "invalid_time",
			Message: "requested time is in the past; please ask for a future time",
		}, nil
	}

	taskID, err := a.Store.CreateTask(ctx, store.Task{
		UserID:        cfg.UserID,
		Info:          map[string]string{"description": args.Info},
		Status:        store.TaskPending,
		TimeToExecute: execTime,
	})
	if err != nil {
		return Result{Success: false, Message: "could not save task: " + err.Error()}, nil
	}

	if a.Enqueuer != nil {
		// Enqueue failure does not fail task creation (spec §4.3).
		_ = a.Enqueuer.EnqueueTask(ctx, taskID, cfg.UserID, map[string]string{"description": args.Info}, execTime)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("task %q created for %s", args.Info, execTime.Format(time.RFC3339)),
		Fields: map[string]any{
			"task_id": taskID,
			"task_info": map[string]string{
				"info": args.Info,
			},
			"status":          string(store.TaskPending),
			"time_to_execute": execTime.Format(time.RFC3339),
		},
	}, nil
}

// lastUserTurn returns the content of the most recent text or committed
// audio entry sourced from the user, ignoring function-call entries.
func lastUserTurn(snap []scratchpad.Entry) string {
	for i := len(snap) - 1; i >= 0; i-- {
		e := snap[i]
		if e.Source == "user" && (e.Kind == scratchpad.KindText || e.Kind == scratchpad.KindAudio) {
			return e.Content
		}
	}
	return ""
}

// createdDescriptionsSince returns the lowercased, trimmed descriptions of
// every successful create_tasks_tool result recorded after the most recent
// user turn matching mostRecentUser — i.e. tasks already created in response
// to the current instruction.
func createdDescriptionsSince(snap []scratchpad.Entry, mostRecentUser string) []string {
	var (
		seenUser bool
		out      []string
	)
	for _, e := range snap {
		if e.Source == "user" && e.Content == mostRecentUser {
			seenUser = true
			out = nil
			continue
		}
		if !seenUser || e.Kind != scratchpad.KindFunctionCall || e.Name != createTasksName {
			continue
		}
		var r struct {
			Success  bool              `json:"success"`
			TaskInfo map[string]string `json:"task_info"`
		}
		if err := json.Unmarshal([]byte(e.Response), &r); err != nil || !r.Success {
			continue
		}
		out = append(out, strings.ToLower(strings.TrimSpace(r.TaskInfo["info"])))
	}
	return out
}
