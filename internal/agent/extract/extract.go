// Package extract implements structured-argument extraction (C3's auxiliary
// capability): given a prompt and a JSON schema, ask a constrained-decoding
// model call for a single tool invocation and return its arguments.
//
// Spec-level this is an opaque capability ("given a prompt and a schema,
// return a record conforming to the schema, or fail"); this implementation
// offers the model exactly one callable tool shaped by the schema, which is
// the same mechanism the tool agents' originating implementation used.
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/reminderd/reminderd/internal/core/errs"
)

// Request describes one structured-argument extraction call.
type Request struct {
	// SystemPrompt carries the extraction instructions, including any
	// user-context interpolation (name, current time, timezone) the caller
	// has already assembled.
	SystemPrompt string

	// ToolName names the single function the model is offered to call.
	ToolName string

	// ToolDescription documents ToolName's purpose and constraints to the model.
	ToolDescription string

	// Schema is the JSON Schema "object" describing ToolName's parameters,
	// in the same shape as llm.ToolDefinition.Parameters.
	Schema map[string]any
}

// Extractor performs structured-argument extraction via a constrained model
// call. Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract returns the raw JSON arguments the model supplied for the
	// requested tool. Returns errs.ErrToolExtractionFailed if the model
	// produced no usable tool call.
	Extract(ctx context.Context, req Request) (json.RawMessage, error)
}

// OpenAIExtractor is an [Extractor] backed by the OpenAI chat completions API.
type OpenAIExtractor struct {
	client oai.Client
	model  string
}

var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor constructs an [OpenAIExtractor] using apiKey and model.
func NewOpenAIExtractor(apiKey, model string, opts ...option.RequestOption) *OpenAIExtractor {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIExtractor{client: oai.NewClient(reqOpts...), model: model}
}

// Extract implements Extractor.
func (e *OpenAIExtractor) Extract(ctx context.Context, req Request) (json.RawMessage, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(req.SystemPrompt),
		},
		Tools: []oai.ChatCompletionToolParam{
			{
				Function: shared.FunctionDefinitionParam{
					Name:        req.ToolName,
					Description: param.NewOpt(req.ToolDescription),
					Parameters:  shared.FunctionParameters(req.Schema),
				},
			},
		},
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: extract: %v", errs.ErrToolExtractionFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: extract: empty choices", errs.ErrToolExtractionFailed)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: extract: model returned no tool call", errs.ErrToolExtractionFailed)
	}
	return json.RawMessage(calls[0].Function.Arguments), nil
}
