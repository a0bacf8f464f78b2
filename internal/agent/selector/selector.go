// Package selector implements the Selector (C4): a constrained-choice model
// call that picks the next tool to invoke, given the current scratchpad and
// the set of registered tool agents.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/reminderd/reminderd/internal/core/errs"
	"github.com/reminderd/reminderd/internal/scratchpad"
)

// ToolInfo is the name/description pair the selector offers the model for
// one registered tool agent.
type ToolInfo struct {
	Name        string
	Description string
}

// Selector chooses the next tool name given the current scratchpad and the
// set of available tools. Implementations must be safe for concurrent use.
type Selector interface {
	// Select returns one tool name drawn from tools. Returns
	// errs.ErrToolExtractionFailed if the model returned no name, or a name
	// outside tools (the orchestrator treats that as a failed selection, not
	// a panic — unknown names are skipped per spec §4.4, and a skip with no
	// remaining candidate is a failure for the turn).
	Select(ctx context.Context, snap []scratchpad.Entry, tools []ToolInfo) (string, error)
}

// OpenAISelector is a [Selector] backed by an enum-constrained OpenAI
// function call: the model is offered a single "select_tool" function whose
// sole parameter's JSON Schema enum is the list of registered tool names.
type OpenAISelector struct {
	client oai.Client
	model  string
}

var _ Selector = (*OpenAISelector)(nil)

// NewOpenAISelector constructs an [OpenAISelector] using apiKey and model.
func NewOpenAISelector(apiKey, model string, opts ...option.RequestOption) *OpenAISelector {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAISelector{client: oai.NewClient(reqOpts...), model: model}
}

// Select implements Selector.
func (s *OpenAISelector) Select(ctx context.Context, snap []scratchpad.Entry, tools []ToolInfo) (string, error) {
	if len(tools) == 0 {
		return "", fmt.Errorf("%w: selector: no tools registered", errs.ErrToolExtractionFailed)
	}

	names := make([]any, len(tools))
	var descriptions strings.Builder
	descriptions.WriteString("Available tools:\n")
	for i, tool := range tools {
		names[i] = tool.Name
		fmt.Fprintf(&descriptions, "%s: %s\n", tool.Name, tool.Description)
	}

	systemContent := fmt.Sprintf(
		"Given the conversation so far %s, select the most appropriate tool to use from the available tools below. "+
			"You MUST return one of the tool names exactly as listed: %s. %s",
		summarize(snap), joinNames(tools), descriptions.String(),
	)

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemContent),
		},
		Tools: []oai.ChatCompletionToolParam{
			{
				Function: shared.FunctionDefinitionParam{
					Name:        "select_tool",
					Description: param.NewOpt("Selects the most appropriate tool to use from the available tools. Returns the exact name of one of the available tools."),
					Parameters: shared.FunctionParameters{
						"type": "object",
						"properties": map[string]any{
							"tool_name": map[string]any{
								"type":        "string",
								"enum":        names,
								"description": "The exact name of the tool to use.",
							},
						},
						"required": []string{"tool_name"},
					},
				},
			},
		},
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: selector: %v", errs.ErrToolExtractionFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: selector: empty choices", errs.ErrToolExtractionFailed)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return "", fmt.Errorf("%w: selector: model returned no tool call", errs.ErrToolExtractionFailed)
	}

	var args struct {
		ToolName string `json:"tool_name"`
	}
	if err := json.Unmarshal([]byte(calls[0].Function.Arguments), &args); err != nil {
		return "", fmt.Errorf("%w: selector: unmarshal arguments: %v", errs.ErrToolExtractionFailed, err)
	}
	if args.ToolName == "" {
		return "", fmt.Errorf("%w: selector: empty tool_name", errs.ErrToolExtractionFailed)
	}
	for _, tool := range tools {
		if tool.Name == args.ToolName {
			return args.ToolName, nil
		}
	}
	return "", fmt.Errorf("%w: selector: unknown tool_name %q", errs.ErrToolExtractionFailed, args.ToolName)
}

func joinNames(tools []ToolInfo) string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return strings.Join(names, ", ")
}

// summarize renders the scratchpad snapshot as a compact transcript for the
// selector's system prompt. Every entry of the snapshot is rendered, in
// order; nothing is truncated.
func summarize(snap []scratchpad.Entry) string {
	var b strings.Builder
	for _, e := range snap {
		switch e.Kind {
		case scratchpad.KindFunctionCall:
			fmt.Fprintf(&b, "[%s(%s) -> %s] ", e.Name, e.Args, e.Response)
		default:
			fmt.Fprintf(&b, "[%s: %s] ", e.Source, e.Content)
		}
	}
	return b.String()
}
