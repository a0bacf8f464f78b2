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

const getTasksName = GetTasksName

// GetTasks is the get-tasks agent: extracts a calendar-day or calendar-week
// range from the user's request and lists matching tasks. An empty result is
// a success, never an error.
type GetTasks struct {
	Store     store.Store
	Extractor extract.Extractor
}

var _ Agent = (*GetTasks)(nil)

func (a *GetTasks) Name() string { return getTasksName }

func (a *GetTasks) Description() string {
	return "Get a list of tasks for a given time range. Use this for read-only queries like " +
		"'what tasks do I have' or 'show me my tasks'. Never use this to create, edit, or delete a task."
}

type getTasksArgs struct {
	Range string `json:"range"`
}

func (a *GetTasks) Execute(ctx context.Context, snap []scratchpad.Entry, cfg UserConfig) (Result, error) {
	systemPrompt := fmt.Sprintf(
		"The user's most recent message is: %q. Determine which calendar range of tasks the user is asking "+
			"about. range must be one of \"today\", \"tomorrow\", \"this_week\", \"next_week\" — default to "+
			"\"today\" if the user did not specify a range.",
		lastUserTurn(snap),
	)

	raw, err := a.Extractor.Extract(ctx, extract.Request{
		SystemPrompt:    systemPrompt,
		ToolName:        getTasksName,
		ToolDescription: a.Description(),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"range": map[string]any{
					"type": "string",
					"enum": []string{"today", "tomorrow", "this_week", "next_week"},
				},
			},
			"required": []string{"range"},
		},
	})
	if err != nil {
		return Result{Success: false, Message: "could not determine the requested range: " + err.Error()}, nil
	}

	var args getTasksArgs
	if unmarshalErr := json.Unmarshal(raw, &args); unmarshalErr != nil {
		return Result{Success: false, Message: "malformed extraction result: " + unmarshalErr.Error()}, nil
	}

	from, to := resolveRange(cfg.Now, args.Range)

	tasks, err := a.Store.ListTasksByUserInRange(ctx, cfg.UserID, from, to)
	if err != nil {
		return Result{Success: false, Message: "could not fetch tasks: " + err.Error()}, nil
	}

	serialized := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		serialized = append(serialized, map[string]any{
			"task_id":         t.ID,
			"task_info":       t.Info,
			"status":          string(t.Status),
			"time_to_execute": t.TimeToExecute.Format(time.RFC3339),
		})
	}

	// An empty list is a success, not an error.
	return Result{
		Success: true,
		Message: fmt.Sprintf("found %d task(s)", len(tasks)),
		Fields: map[string]any{
			"tasks":       serialized,
			"total_count": len(tasks),
		},
	}, nil
}

// resolveRange maps a range keyword to its calendar-day or calendar-week
// boundary, anchored at now in now's own location — never a rolling
// 24-hour or 7-day window. Unrecognised keywords fall back to today.
func resolveRange(now time.Time, rng string) (from, to time.Time) {
	switch rng {
	case "tomorrow":
		return reltime.DayBounds(now.AddDate(0, 0, 1))
	case "this_week":
		return reltime.WeekBounds(now)
	case "next_week":
		return reltime.NextWeekBounds(now)
	default:
		return reltime.DayBounds(now)
	}
}
