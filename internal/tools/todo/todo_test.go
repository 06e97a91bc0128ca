package todo

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestTodoReadEmptyList(t *testing.T) {
	list := NewList()
	tool := NewReadTool(list)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "No todos found. The todo list is empty." {
		t.Fatalf("unexpected output: %q", result.Output)
	}
}

func TestTodoWriteReplacesList(t *testing.T) {
	list := NewList()
	writeTool := NewWriteTool(list)
	readTool := NewReadTool(list)

	params, _ := json.Marshal(map[string]any{
		"todos": []map[string]any{
			{"content": "write tests", "status": "in_progress"},
			{"content": "ship it"},
		},
	})
	if _, err := writeTool.Execute(context.Background(), params); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := readTool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(result.Output, "write tests") || !strings.Contains(result.Output, "ship it") {
		t.Fatalf("unexpected output: %q", result.Output)
	}

	// A second write fully replaces the list rather than appending.
	params2, _ := json.Marshal(map[string]any{"todos": []map[string]any{{"content": "only this"}}})
	if _, err := writeTool.Execute(context.Background(), params2); err != nil {
		t.Fatalf("write: %v", err)
	}
	result2, _ := readTool.Execute(context.Background(), json.RawMessage(`{}`))
	if strings.Contains(result2.Output, "write tests") {
		t.Fatalf("expected prior todos to be replaced, got %q", result2.Output)
	}
}

func TestTodoDefaultStatusIsPending(t *testing.T) {
	list := NewList()
	writeTool := NewWriteTool(list)
	params, _ := json.Marshal(map[string]any{"todos": []map[string]any{{"content": "x"}}})
	writeTool.Execute(context.Background(), params)

	items := list.snapshot()
	if len(items) != 1 || items[0].Status != StatusPending {
		t.Fatalf("expected default pending status, got %+v", items)
	}
}
