// Package gateway implements the Session Gateway (C6): a per-user,
// full-duplex WebSocket endpoint that bridges a live model session to the
// scratchpad and the orchestrator.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/reminderd/reminderd/internal/agent/orchestrator"
	"github.com/reminderd/reminderd/internal/agent/tool"
	"github.com/reminderd/reminderd/internal/store"
	"github.com/reminderd/reminderd/pkg/provider/llm"
	"github.com/reminderd/reminderd/pkg/provider/s2s"
)

// Tool names the model declares against the live session; these are
// distinct from the internal tool-agent names in internal/agent/tool, which
// the Orchestrator resolves privately (spec.md §4.6).
const (
	thinkToolName = "think_and_repeat_output"
	endToolName   = "end_conversation"
)

// Gateway accepts WebSocket connections and runs one Session per accepted
// connection. A single Gateway is shared across all users; its fields are
// read-only after construction and safe for concurrent use.
type Gateway struct {
	S2S          s2s.Provider
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Voice        string
	Instructions string

	Logger *slog.Logger
}

// toolDefinitions returns the two tools declared to the model at Connect
// time (spec.md §4.6, §6).
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        thinkToolName,
			Description: "Process the user's most recent spoken request and produce a reply to speak back.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_input": map[string]any{"type": "string"},
				},
				"required": []string{"user_input"},
			},
		},
		{
			Name:        endToolName,
			Description: "End the conversation and say goodbye to the user.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"goodbye_message": map[string]any{"type": "string"},
				},
			},
		},
	}
}

// ServeHTTP implements http.Handler. It accepts the WebSocket upgrade and
// runs the session to completion, logging (but not propagating) any
// teardown error — the HTTP response has already been hijacked by Accept.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := g.logger()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Error("gateway: websocket accept failed", "err", err, "user_id", userID)
		return
	}

	cfg := tool.UserConfig{
		UserID: userID,
		Name:   valueOr(r.URL.Query().Get("name"), userID),
		Zone:   zoneOr(r.URL.Query().Get("zone")),
	}

	sess := &session{
		gw:     g,
		conn:   conn,
		userID: userID,
		cfg:    cfg,
		logger: logger.With("user_id", userID),
	}

	if err := sess.run(r.Context()); err != nil {
		logger.Info("gateway: session ended", "user_id", userID, "err", err)
	}
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func zoneOr(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
