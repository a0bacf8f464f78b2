// Package orchestrator implements the Orchestrator (C5): the bounded loop
// that drives the Selector and the registered tool agents to a terminal
// reply for a single conversation turn.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reminderd/reminderd/internal/agent/selector"
	"github.com/reminderd/reminderd/internal/agent/tool"
	"github.com/reminderd/reminderd/internal/scratchpad"
)

const (
	maxTotalCalls          = 10
	maxConsecutiveSameTool = 3

	// substantiveLengthThreshold is the length above which a prior assistant
	// reply counts as a real answer (not a brief acknowledgment) for the
	// already-processed precondition. acknowledgmentMaxLength is the separate
	// bound below which a reply containing an acknowledgment phrase counts as
	// a brief acknowledgment; isSubstantiveReply applies both.
	substantiveLengthThreshold = 20
	acknowledgmentMaxLength    = 50
)

var acknowledgmentPhrases = []string{"let me check", "one moment", "looking", "checking"}

const alreadyProcessedReply = "This request has already been processed. Please check the previous response."
const genericApologyReply = "Sorry, I ran into a problem and couldn't finish that. Could you try again?"

// Orchestrator runs Think for a single user turn against a fixed set of
// registered tool agents and a Selector.
type Orchestrator struct {
	Selector selector.Selector
	Tools    *tool.Registry
}

// Think runs one bounded turn: it checks the already-processed precondition,
// then drives Selector→Tool→Scratchpad until the compose-reply tool
// terminates the turn or a bound is hit. It returns the reply text and the
// new entries the caller (the gateway) should append to its own scratchpad —
// Think never mutates snap itself.
func (o *Orchestrator) Think(ctx context.Context, userInput string, snap []scratchpad.Entry, cfg tool.UserConfig) (string, []scratchpad.Entry, error) {
	if alreadyProcessed(snap, userInput) {
		return alreadyProcessedReply, nil, nil
	}

	userEntry := scratchpad.Entry{Source: "user", Kind: scratchpad.KindText, Content: userInput}
	working := make([]scratchpad.Entry, len(snap), len(snap)+1)
	copy(working, snap)
	working = append(working, userEntry)
	newEntries := []scratchpad.Entry{userEntry}

	toolInfos := toolInfosFrom(o.Tools)

	totalCalls := 0
	lastTool := ""
	consecutive := 0

	for {
		name, err := o.Selector.Select(ctx, working, toolInfos)
		if err != nil {
			return genericApologyReply, newEntries, nil
		}

		if name == tool.ComposeReplyName {
			break
		}

		if name == lastTool {
			consecutive++
		} else {
			lastTool = name
			consecutive = 1
		}

		if totalCalls >= maxTotalCalls || consecutive > maxConsecutiveSameTool {
			break
		}

		agent := o.Tools.Get(name)
		if agent == nil {
			// The Selector is expected to filter unknown names before
			// returning (§4.4); this guards against a stale registry.
			continue
		}

		result := safeExecute(ctx, agent, working, cfg)
		totalCalls++

		resBytes, _ := json.Marshal(result)
		fcEntry := scratchpad.Entry{
			Source:   "assistant",
			Kind:     scratchpad.KindFunctionCall,
			Name:     name,
			CallID:   fmt.Sprintf("call-%d", totalCalls),
			Response: string(resBytes),
		}
		working = append(working, fcEntry)
		newEntries = append(newEntries, fcEntry)

		if shortCircuit(name, result) {
			break
		}
	}

	composeAgent := o.Tools.Get(tool.ComposeReplyName)
	if composeAgent == nil {
		return genericApologyReply, newEntries, fmt.Errorf("orchestrator: %s not registered", tool.ComposeReplyName)
	}
	result := safeExecute(ctx, composeAgent, working, cfg)

	reply := result.Message
	if reply == "" {
		reply = genericApologyReply
	}
	newEntries = append(newEntries, scratchpad.Entry{Source: "assistant", Kind: scratchpad.KindText, Content: reply})

	return reply, newEntries, nil
}

func toolInfosFrom(reg *tool.Registry) []selector.ToolInfo {
	agents := reg.All()
	out := make([]selector.ToolInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, selector.ToolInfo{Name: a.Name(), Description: a.Description()})
	}
	return out
}

// safeExecute converts a tool execution panic or error into a
// Result{Success:false} rather than letting either escape the loop (§7:
// tool-extraction-failed / store-unavailable failures do not abort the turn).
func safeExecute(ctx context.Context, agent tool.Agent, snap []scratchpad.Entry, cfg tool.UserConfig) (res tool.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = tool.Result{Success: false, Message: fmt.Sprintf("tool %s panicked: %v", agent.Name(), r)}
		}
	}()
	result, err := agent.Execute(ctx, snap, cfg)
	if err != nil {
		return tool.Result{Success: false, Message: fmt.Sprintf("tool %s failed: %v", agent.Name(), err)}
	}
	return result
}

// shortCircuit implements the deterministic short-circuit table (spec §4.4),
// applied after every tool execution and overriding whatever the Selector
// would have chosen next.
func shortCircuit(name string, res tool.Result) bool {
	switch name {
	case tool.GetTasksName:
		return true
	case tool.EditTasksName, tool.DeleteTasksName:
		return res.Success
	case tool.CreateTasksName:
		return res.Success || res.Status == "all_tasks_created" || res.Status == "invalid_time"
	default:
		return false
	}
}

// alreadyProcessed scans every prior instance of the normalized userInput in
// snap; for each, it looks ahead (stopping at the next user turn) for either
// a function_call entry with a non-empty response, or a substantive
// (non-acknowledgment, >20 char) text/audio agent entry. If any instance
// qualifies, the turn is a duplicate.
func alreadyProcessed(snap []scratchpad.Entry, userInput string) bool {
	normalizedInput := normalizeText(userInput)
	if normalizedInput == "" {
		return false
	}

	for i, e := range snap {
		if !(e.Source == "user" && (e.Kind == scratchpad.KindText || e.Kind == scratchpad.KindAudio)) {
			continue
		}
		if normalizeText(e.Content) != normalizedInput {
			continue
		}

		for _, later := range snap[i+1:] {
			if later.Source == "user" && (later.Kind == scratchpad.KindText || later.Kind == scratchpad.KindAudio) {
				break
			}
			if later.Kind == scratchpad.KindFunctionCall && later.Source == "assistant" && later.Response != "" {
				return true
			}
			if (later.Kind == scratchpad.KindText || later.Kind == scratchpad.KindAudio) &&
				later.Source == "assistant" && isSubstantiveReply(later.Content) {
				return true
			}
		}
	}
	return false
}

// isSubstantiveReply reports whether content counts as a real answer rather
// than a brief acknowledgment, per the constants mirrored from the original
// check_if_already_processed.
func isSubstantiveReply(content string) bool {
	lower := strings.ToLower(content)
	isAck := len(content) < acknowledgmentMaxLength
	if isAck {
		found := false
		for _, phrase := range acknowledgmentPhrases {
			if strings.Contains(lower, phrase) {
				found = true
				break
			}
		}
		isAck = found
	}
	return !isAck && len(content) > substantiveLengthThreshold
}

// normalizeText lowercases, trims, and collapses internal whitespace to
// single spaces, matching normalize_text.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
