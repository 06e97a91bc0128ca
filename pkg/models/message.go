// Package models provides the canonical data types shared across the agent
// runtime, tool registry, and provider adapters.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleDeveloper Role = "developer"
)

// ContentPartType discriminates the kind of an ordered content part.
type ContentPartType string

const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image"
)

// ContentPart is one ordered piece of a message's content. Most messages
// carry a single text part; vision-capable providers may see an ordered
// mix of text and image parts.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
}

// ToolCall is an LLM's request to invoke one named tool. Arguments is the
// raw JSON object the provider returned for the tool's parameters; it is
// validated against the tool's schema at dispatch time, not here.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry in an agent's trace. Exactly the fields relevant to
// its Role are populated; the zero value of the others is never inspected.
type Message struct {
	Role Role `json:"role"`

	// Content holds the message's primary text. For System/User/Developer
	// messages this is the whole message unless Parts is set.
	Content string `json:"content,omitempty"`

	// Parts holds ordered multi-part content (text interleaved with
	// images). When non-empty it takes precedence over Content.
	Parts []ContentPart `json:"parts,omitempty"`

	// ReasoningContent holds a provider's extracted chain-of-thought for
	// an Assistant message (e.g. <think> tag content, or a dedicated
	// reasoning field), kept separate from the user-visible Content.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ToolCalls is set on Assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set on Tool messages; it must match the ID of some
	// ToolCall in an earlier Assistant message.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a Tool message whose Content is an error description
	// rather than tool output.
	IsError bool `json:"is_error,omitempty"`

	// Name optionally overrides the author's display name (used by some
	// OpenAI-compatible dialects for multi-participant system prompts).
	Name string `json:"name,omitempty"`

	// Refusal is set when a provider declines to produce the requested
	// content instead of an ordinary Assistant reply.
	Refusal string `json:"refusal,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NewTextMessage builds a plain single-part message.
func NewTextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: timeNow()}
}

// NewToolResultMessage builds a Tool message answering the given call id.
func NewToolResultMessage(toolCallID, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		IsError:    isError,
		CreatedAt:  timeNow(),
	}
}

// ToolResult is the outcome of dispatching one ToolCall, before it is
// folded into a Tool Message and appended to history. Keeping it distinct
// from Message lets the executor carry timing/metadata that never reaches
// the LLM-visible transcript.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Content    string         `json:"content"`
	IsError    bool           `json:"is_error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ToMessage folds a ToolResult into the Tool message appended to history.
func (r ToolResult) ToMessage() Message {
	return NewToolResultMessage(r.ToolCallID, r.Content, r.IsError)
}

// timeNow is a var so tests can freeze it; production always calls time.Now.
var timeNow = time.Now
