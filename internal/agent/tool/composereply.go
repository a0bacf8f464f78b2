package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/reminderd/reminderd/internal/scratchpad"
	"github.com/reminderd/reminderd/pkg/provider/llm"
)

const composeReplyName = ComposeReplyName

// ComposeReply is the terminal tool agent (C3): a pure consumer of the
// scratchpad that produces the final user-visible reply. Unlike the other
// four agents it never mutates store state and never calls Extractor — it
// asks the underlying model for free text, not a constrained tool call.
type ComposeReply struct {
	Provider llm.Provider
	Model    string
}

var _ Agent = (*ComposeReply)(nil)

func (a *ComposeReply) Name() string { return composeReplyName }

func (a *ComposeReply) Description() string {
	return "Generate the assistant's final response to the user. This is always the last tool called before " +
		"a turn ends."
}

const antiHallucinationDirective = "Base your response exclusively on the information in the conversation below. " +
	"Never invent, add, or mention a task, time, or status that does not appear verbatim in a prior tool result. " +
	"An empty task list from get_tasks_tool means the user genuinely has no tasks in that range — say so plainly " +
	"(e.g. \"you have no tasks scheduled\"), never report it as an error or an access problem. " +
	"If several tasks were created or listed, mention every one of them, not a subset. " +
	"If the user only acknowledged a reminder with something like \"thanks\" or \"okay\" without clearly saying " +
	"they finished the task, ask them to confirm completion rather than assuming it."

func (a *ComposeReply) Execute(ctx context.Context, snap []scratchpad.Entry, cfg UserConfig) (Result, error) {
	systemPrompt := fmt.Sprintf(
		"%s When mentioning times, use the user's timezone (%s); times already recorded in the conversation "+
			"are already expressed in that timezone.",
		antiHallucinationDirective, cfg.Zone,
	)

	messages := make([]llm.Message, 0, len(snap))
	for _, e := range snap {
		switch e.Kind {
		case scratchpad.KindFunctionCall:
			messages = append(messages, llm.Message{Role: "assistant", Name: e.Name, Content: e.Args})
			messages = append(messages, llm.Message{Role: "tool", Name: e.Name, Content: e.Response, ToolCallID: e.CallID})
		default:
			role := "assistant"
			if e.Source == "user" {
				role = "user"
			}
			messages = append(messages, llm.Message{Role: role, Content: e.Content})
		}
	}

	resp, err := a.Provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	})
	if err != nil {
		return Result{}, fmt.Errorf("compose reply: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		reply = "Sorry, I wasn't able to come up with a response. Could you repeat that?"
	}

	return Result{
		Success: true,
		Message: reply,
		Fields: map[string]any{
			"reply": reply,
		},
	}, nil
}
