package models

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	m := NewTextMessage(RoleUser, "hello")
	if m.Role != RoleUser || m.Content != "hello" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be set")
	}
}

func TestNewToolResultMessage(t *testing.T) {
	m := NewToolResultMessage("call_1", "boom", true)
	if m.Role != RoleTool {
		t.Fatalf("expected RoleTool, got %v", m.Role)
	}
	if m.ToolCallID != "call_1" || !m.IsError {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestToolCallArgumentsRoundTrip(t *testing.T) {
	tc := ToolCall{ID: "c1", Name: "bash", Arguments: json.RawMessage(`{"command":"ls"}`)}
	b, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ToolCall
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Name != "bash" {
		t.Fatalf("unexpected round-trip: %+v", out)
	}
}

func TestMessageWithPartsTakesPrecedence(t *testing.T) {
	m := Message{
		Role:    RoleUser,
		Content: "ignored when Parts is set",
		Parts: []ContentPart{
			{Type: ContentPartText, Text: "look at this"},
			{Type: ContentPartImage, ImageURL: "https://example.com/a.png"},
		},
	}
	if len(m.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(m.Parts))
	}
}
