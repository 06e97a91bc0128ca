package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shai-run/agentcore/pkg/models"
)

// ToolCallMethod selects how a Brain turns a provider's response into tool
// calls. Providers vary in how reliably they expose a native function-call
// channel, so the agent can fall back through cheaper-to-richer strategies
// until one produces a usable assistant message.
type ToolCallMethod string

const (
	// ToolCallAuto uses the provider's native function-calling channel with
	// tool_choice="auto": the model decides whether to call a tool at all.
	ToolCallAuto ToolCallMethod = "auto"

	// ToolCallRequired forces exactly one tool call by advertising a
	// no_op sentinel alongside the real tools and setting tool_choice to
	// the provider's forced-choice mode. A lone no_op call is stripped
	// back down to "no tool call" before the assistant message is built.
	ToolCallRequired ToolCallMethod = "required"

	// ToolCallStructuredOutput is used against providers/models with no
	// native function-calling channel: tool descriptions are folded into
	// the system prompt and the response is constrained to a JSON schema
	// the strategy parses back into tool calls.
	ToolCallStructuredOutput ToolCallMethod = "structured_output"

	// ToolCallTryAll attempts Auto, then Required, then StructuredOutput,
	// keeping the first one that returns without error.
	ToolCallTryAll ToolCallMethod = "try_all"
)

// noOpToolName is the sentinel tool advertised under ToolCallRequired so a
// model that genuinely has nothing to call can still satisfy a
// forced-choice wire mode without fabricating a real tool call.
const noOpToolName = "no_op"

var noOpTool = ToolSpec{
	Name:        noOpToolName,
	Description: "Call this if no other tool is needed to respond.",
	Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
}

// structuredOutputSchema is the response_schema handed to providers under
// ToolCallStructuredOutput. The provider's JSON output is parsed back into
// an AssistantResponse and rematerialized as a canonical assistant message
// with synthetic tool-call ids.
var structuredOutputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {"type": "string"},
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "tool_name": {"type": "string"},
          "parameters": {"type": "object"}
        },
        "required": ["tool_name"]
      }
    }
  },
  "required": ["content"]
}`)

// AssistantResponse is the structured-output wire shape a model returns
// under ToolCallStructuredOutput: ordinary content plus an optional list of
// tool invocations it would like to make.
type AssistantResponse struct {
	Content string                    `json:"content"`
	Tools   []AssistantResponseTool   `json:"tools,omitempty"`
}

// AssistantResponseTool is one entry of AssistantResponse.Tools.
type AssistantResponseTool struct {
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// StrategyResult is the canonical outcome every tool-call strategy produces,
// regardless of which wire dialect or forced-choice trick it used
// underneath. The state machine only ever sees this shape, so it remains
// entirely strategy-agnostic.
type StrategyResult struct {
	Message      models.Message
	InputTokens  int
	OutputTokens int
}

// runStrategy drives req against provider under method, normalizing the
// result to a canonical assistant message. system is appended to or
// replaces req.System depending on the strategy (StructuredOutput folds
// tool descriptions into the system prompt since it cannot advertise a
// native tools list).
func runStrategy(ctx context.Context, provider LLMProvider, req *CompletionRequest, method ToolCallMethod) (*StrategyResult, error) {
	switch method {
	case ToolCallAuto:
		return runFunctionCall(ctx, provider, req, "auto")
	case ToolCallRequired:
		return runFunctionCallRequired(ctx, provider, req)
	case ToolCallStructuredOutput:
		return runStructuredOutput(ctx, provider, req)
	case ToolCallTryAll, "":
		return runTryAll(ctx, provider, req)
	default:
		return nil, fmt.Errorf("%w: unknown tool-call method %q", ErrInvalidState, method)
	}
}

// runTryAll attempts Auto, then Required, then StructuredOutput in order
// and keeps the first that doesn't error. A provider that simply has no
// tools configured never needs to fall through past Auto.
func runTryAll(ctx context.Context, provider LLMProvider, req *CompletionRequest) (*StrategyResult, error) {
	var errs []string

	if res, err := runFunctionCall(ctx, provider, req, "auto"); err == nil {
		return res, nil
	} else {
		errs = append(errs, "auto: "+err.Error())
	}

	if len(req.Tools) > 0 {
		if res, err := runFunctionCallRequired(ctx, provider, req); err == nil {
			return res, nil
		} else {
			errs = append(errs, "required: "+err.Error())
		}
	}

	res, err := runStructuredOutput(ctx, provider, req)
	if err != nil {
		errs = append(errs, "structured_output: "+err.Error())
		return nil, fmt.Errorf("%w: all tool-call strategies failed: %s", ErrLLM, strings.Join(errs, "; "))
	}
	return res, nil
}

func runFunctionCall(ctx context.Context, provider LLMProvider, req *CompletionRequest, toolChoice string) (*StrategyResult, error) {
	r := *req
	r.ToolChoice = toolChoice
	return drainCompletion(ctx, provider, &r)
}

// runFunctionCallRequired advertises the real tools plus the no_op
// sentinel and forces the provider to call exactly one of them. A lone
// no_op call is stripped back down to a tool-call-free assistant message
// so callers never see the sentinel leak into the trace.
func runFunctionCallRequired(ctx context.Context, provider LLMProvider, req *CompletionRequest) (*StrategyResult, error) {
	r := *req
	r.Tools = append(append([]ToolSpec{}, req.Tools...), noOpTool)
	r.ToolChoice = "required"

	res, err := drainCompletion(ctx, provider, &r)
	if err != nil {
		return nil, err
	}

	if len(res.Message.ToolCalls) == 1 && res.Message.ToolCalls[0].Name == noOpToolName {
		res.Message.ToolCalls = nil
	}
	return res, nil
}

// runStructuredOutput folds every tool's name/description/schema into the
// system prompt, asks for a response conforming to structuredOutputSchema,
// then parses the model's JSON back into a canonical assistant message
// with synthetic tool-call ids (since structured output carries no native
// call id of its own).
func runStructuredOutput(ctx context.Context, provider LLMProvider, req *CompletionRequest) (*StrategyResult, error) {
	r := *req
	r.Tools = nil
	r.ToolChoice = ""
	r.System = buildStructuredOutputSystem(req.System, req.Tools)

	res, err := drainCompletion(ctx, provider, &r)
	if err != nil {
		return nil, err
	}

	var parsed AssistantResponse
	if err := json.Unmarshal([]byte(res.Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("%w: structured output did not parse: %v", ErrInvalidResponse, err)
	}

	msg := models.Message{
		Role:      models.RoleAssistant,
		Content:   parsed.Content,
		CreatedAt: res.Message.CreatedAt,
	}
	for i, t := range parsed.Tools {
		args := t.Parameters
		if args == nil {
			args = json.RawMessage(`{}`)
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        fmt.Sprintf("structured-%d", i),
			Name:      t.ToolName,
			Arguments: args,
		})
	}

	return &StrategyResult{Message: msg, InputTokens: res.InputTokens, OutputTokens: res.OutputTokens}, nil
}

func buildStructuredOutputSystem(system string, tools []ToolSpec) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString("You must respond with a single JSON object matching this shape: " +
		`{"content": string, "tools": [{"tool_name": string, "parameters": object}]}` +
		". Omit \"tools\" or leave it empty when no tool call is needed.\n\n")
	if len(tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n  parameters schema: %s\n", t.Name, t.Description, string(t.Schema))
		}
	}
	return b.String()
}

// drainCompletion runs req against provider and collapses the streamed
// chunks into one canonical assistant message, concatenating text and
// reasoning, and gathering any tool calls the provider emitted.
func drainCompletion(ctx context.Context, provider LLMProvider, req *CompletionRequest) (*StrategyResult, error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLM, err)
	}

	var text, reasoning strings.Builder
	var toolCalls []models.ToolCall
	var inputTokens, outputTokens int

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("%w: %v", ErrLLM, chunk.Error)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.Thinking != "" {
			reasoning.WriteString(chunk.Thinking)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}
	}

	content, reasoningText := extractThinkTags(text.String())
	if reasoningText != "" {
		if reasoning.Len() > 0 {
			reasoning.WriteString("\n")
		}
		reasoning.WriteString(reasoningText)
	}

	msg := models.Message{
		Role:             models.RoleAssistant,
		Content:          content,
		ReasoningContent: reasoning.String(),
		ToolCalls:        toolCalls,
		CreatedAt:        models.Message{}.CreatedAt,
	}
	return &StrategyResult{Message: msg, InputTokens: inputTokens, OutputTokens: outputTokens}, nil
}

// extractThinkTags strips every <think>...</think> span from content,
// returning the remaining user-visible text and the concatenated thinking
// text. Applies to any provider, not just ones with a native thinking
// channel, since some models emit the tag inline regardless of request
// flags. Idempotent: running it again on its own output (which contains no
// <think> tags) returns the input unchanged.
func extractThinkTags(content string) (visible, thinking string) {
	const open, close = "<think>", "</think>"
	var visibleBuf, thinkBuf strings.Builder
	rest := content
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			visibleBuf.WriteString(rest)
			break
		}
		visibleBuf.WriteString(rest[:i])
		rest = rest[i+len(open):]
		j := strings.Index(rest, close)
		if j < 0 {
			// Unterminated tag: treat the rest as thinking, nothing left visible.
			thinkBuf.WriteString(rest)
			rest = ""
			break
		}
		thinkBuf.WriteString(rest[:j])
		rest = rest[j+len(close):]
	}
	return strings.TrimSpace(visibleBuf.String()), strings.TrimSpace(thinkBuf.String())
}
