// Package tool declares the Agent contract shared by the five tool agents
// (C3): create-tasks, get-tasks, edit-tasks, delete-tasks, compose-reply.
package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reminderd/reminderd/internal/scratchpad"
)

// Tool names, exported so the orchestrator's short-circuit table (spec §4.4)
// can name them without importing each agent's own unexported constant.
const (
	CreateTasksName  = "create_tasks_tool"
	GetTasksName     = "get_tasks_tool"
	EditTasksName    = "edit_tasks_tool"
	DeleteTasksName  = "delete_tasks_tool"
	ComposeReplyName = "generate_response_tool"
)

// UserConfig carries the per-turn user context a tool agent needs: identity,
// presentation timezone, and the instant "now" is evaluated at. Now is
// threaded explicitly rather than read from time.Now() so that time-sensitive
// agents (create-tasks, edit-tasks defer) are deterministic in tests.
type UserConfig struct {
	UserID string
	Name   string
	Zone   *time.Location
	Now    time.Time
}

// Result is the JSON-serializable record every tool agent returns: the
// common {success, message} envelope plus type-specific fields (task_id,
// tasks, total_count, status, ...) carried in Fields.
type Result struct {
	Success bool
	Message string

	// Status optionally tags a non-error, non-generic outcome the
	// orchestrator's short-circuit table or compose-reply must recognise,
	// e.g. "all_tasks_created", "invalid_time".
	Status string

	// Fields holds any additional type-specific data (task_id, task_info,
	// tasks, total_count, ...), merged into the top-level JSON object.
	Fields map[string]any
}

// MarshalJSON merges Fields with the common envelope into one flat object.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = r.Success
	out["message"] = r.Message
	if r.Status != "" {
		out["status"] = r.Status
	}
	return json.Marshal(out)
}

// Agent is a single side-effecting (or pure, for compose-reply) tool
// capability. Implementations must be safe for concurrent use across
// sessions; per-call state lives in the parameters, not the Agent itself.
type Agent interface {
	// Name is the tool's identifier as offered to the Selector and as
	// recorded in scratchpad function_call entries.
	Name() string

	// Description documents the tool's purpose and invocation constraints
	// to the Selector.
	Description() string

	// Execute runs the tool against an immutable scratchpad snapshot and
	// returns a Result. Errors here are caller-visible plumbing failures
	// (e.g. a cancelled context); domain-level failures belong in
	// Result.Success=false, not in the error return.
	Execute(ctx context.Context, snap []scratchpad.Entry, cfg UserConfig) (Result, error)
}

// Registry maps tool names to their Agent implementation, preserving
// registration order for deterministic enumeration (e.g. for the Selector's
// tool list, or compose-reply's terminal position).
type Registry struct {
	order []string
	byName map[string]Agent
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Agent)}
}

// Register adds agent under its own Name(). Re-registering the same name
// replaces the previous agent but keeps its position in Names().
func (r *Registry) Register(agent Agent) {
	name := agent.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = agent
}

// Get returns the agent registered under name, or nil if none exists.
func (r *Registry) Get(name string) Agent {
	return r.byName[name]
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every registered agent in registration order.
func (r *Registry) All() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
