package agent

import (
	"context"
	"fmt"

	"github.com/shai-run/agentcore/pkg/models"
)

// FlowHint is the Brain's opinion about what should happen after the
// assistant message it just produced: keep iterating, or hand control
// back to the user. The state machine treats this as a hint, not a
// command — Processing{tools} always runs to completion regardless, and
// FlowPause only takes effect once no tool calls remain to execute.
type FlowHint string

const (
	// FlowContinue means the assistant message carries tool calls (or the
	// brain otherwise expects another turn before the user should see
	// control returned to them).
	FlowContinue FlowHint = "continue"

	// FlowPause means the turn is complete and the agent should await
	// further user input.
	FlowPause FlowHint = "pause"
)

// BrainResult is what one decision-cycle brain invocation produces: the
// next assistant message plus a flow hint for the state machine.
type BrainResult struct {
	Message      models.Message
	Flow         FlowHint
	InputTokens  int
	OutputTokens int
}

// Brain is the per-turn decision function (spec'd separately from the
// state machine so the scheduling/cancellation concerns in Controller
// never need to know how a message gets produced): given a trace snapshot
// and the available tools, decide the next assistant message.
type Brain interface {
	Decide(ctx context.Context, trace []models.Message, tools []ToolSpec) (*BrainResult, error)
}

// BrainConfig configures a DefaultBrain.
type BrainConfig struct {
	Model      string
	System     string
	MaxTokens  int
	Method     ToolCallMethod
	Thinking   bool
	ThinkBudgetTokens int
}

// DefaultBrain is the standard Brain: it builds a canonical completion
// request from the trace snapshot, runs it through the configured
// Tool-Call Strategy against one LLMProvider, and classifies the result's
// flow hint from whether the assistant message carries tool calls.
type DefaultBrain struct {
	provider LLMProvider
	cfg      BrainConfig
}

// NewDefaultBrain builds a Brain bound to provider under cfg. A zero
// cfg.Method defaults to ToolCallTryAll.
func NewDefaultBrain(provider LLMProvider, cfg BrainConfig) *DefaultBrain {
	if cfg.Method == "" {
		cfg.Method = ToolCallTryAll
	}
	return &DefaultBrain{provider: provider, cfg: cfg}
}

// SetMethod changes the tool-call strategy used by future Decide calls,
// backing Controller.SetToolCallMethod.
func (b *DefaultBrain) SetMethod(method ToolCallMethod) {
	b.cfg.Method = method
}

// Decide implements Brain.
func (b *DefaultBrain) Decide(ctx context.Context, trace []models.Message, tools []ToolSpec) (*BrainResult, error) {
	if b.provider == nil {
		return nil, ErrNoProvider
	}

	req := &CompletionRequest{
		Model:                b.cfg.Model,
		System:               b.cfg.System,
		Messages:             toCompletionMessages(repairTranscript(trace)),
		Tools:                tools,
		MaxTokens:            b.cfg.MaxTokens,
		EnableThinking:       b.cfg.Thinking,
		ThinkingBudgetTokens: b.cfg.ThinkBudgetTokens,
	}

	res, err := runStrategy(ctx, b.provider, req, b.cfg.Method)
	if err != nil {
		return nil, fmt.Errorf("brain: %w", err)
	}

	flow := FlowPause
	if len(res.Message.ToolCalls) > 0 {
		flow = FlowContinue
	}

	return &BrainResult{
		Message:      res.Message,
		Flow:         flow,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}, nil
}

// toCompletionMessages maps a trace snapshot to the wire-agnostic message
// shape every provider adapter consumes. System messages pass through as
// ordinary messages; DefaultBrain's own cfg.System is handed to the
// provider separately via CompletionRequest.System, matching how every
// existing adapter expects a single top-level system string rather than an
// inline system message.
func toCompletionMessages(trace []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(trace))
	for _, m := range trace {
		switch m.Role {
		case models.RoleTool:
			out = append(out, CompletionMessage{
				Role: "tool",
				ToolResults: []models.ToolResult{{
					ToolCallID: m.ToolCallID,
					Content:    m.Content,
					IsError:    m.IsError,
				}},
			})
		case models.RoleAssistant:
			out = append(out, CompletionMessage{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: m.ToolCalls,
				Parts:     m.Parts,
			})
		default:
			out = append(out, CompletionMessage{
				Role:    string(m.Role),
				Content: m.Content,
				Parts:   m.Parts,
			})
		}
	}
	return out
}
