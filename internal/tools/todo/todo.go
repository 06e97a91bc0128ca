// Package todo implements the todo_read and todo_write tools backed by a
// single shared, in-memory list.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shai-run/agentcore/internal/tooling"
)

// Status is a todo item's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Item is one todo list entry.
type Item struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List is shared mutable state behind both tools.
type List struct {
	mu    sync.Mutex
	items []Item
}

// NewList returns an empty todo list.
func NewList() *List {
	return &List{}
}

func (l *List) snapshot() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) replace(items []Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = items
}

func format(items []Item) string {
	if len(items) == 0 {
		return "No todos found. The todo list is empty."
	}
	var b strings.Builder
	for _, it := range items {
		var box, colored string
		switch it.Status {
		case StatusCompleted:
			box = "☑"
			colored = fmt.Sprintf("\x1b[32m%s %s\x1b[0m", box, it.Content)
		case StatusInProgress:
			box = "☐"
			colored = fmt.Sprintf("\x1b[33m%s %s\x1b[0m", box, it.Content)
		default:
			box = "☐"
			colored = fmt.Sprintf("%s %s", box, it.Content)
		}
		b.WriteString(colored)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReadTool implements todo_read.
type ReadTool struct {
	list   *List
	schema json.RawMessage
}

// ReadParams is the (empty) todo_read parameter shape.
type ReadParams struct{}

// NewReadTool constructs todo_read over the given shared list.
func NewReadTool(list *List) *ReadTool {
	return &ReadTool{list: list, schema: tooling.BuildSchema(ReadParams{})}
}

func (t *ReadTool) Name() string        { return "todo_read" }
func (t *ReadTool) Description() string { return "Read the current todo list." }
func (t *ReadTool) ParameterSchema() json.RawMessage { return t.schema }
func (t *ReadTool) Capabilities() []tooling.Capability { return nil }

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	return tooling.Ok(format(t.list.snapshot()), nil), nil
}

// WriteParams is the todo_write parameter shape.
type WriteParams struct {
	Todos []struct {
		Content string `json:"content" jsonschema:"required"`
		Status  Status `json:"status,omitempty"`
	} `json:"todos" jsonschema:"required"`
}

// WriteTool implements todo_write.
type WriteTool struct {
	list   *List
	schema json.RawMessage
}

// NewWriteTool constructs todo_write over the given shared list.
func NewWriteTool(list *List) *WriteTool {
	return &WriteTool{list: list, schema: tooling.BuildSchema(WriteParams{})}
}

func (t *WriteTool) Name() string        { return "todo_write" }
func (t *WriteTool) Description() string { return "Replace the entire todo list." }
func (t *WriteTool) ParameterSchema() json.RawMessage { return t.schema }
func (t *WriteTool) Capabilities() []tooling.Capability { return nil }

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p WriteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}
	now := time.Now()
	items := make([]Item, 0, len(p.Todos))
	for _, in := range p.Todos {
		status := in.Status
		if status == "" {
			status = StatusPending
		}
		items = append(items, Item{
			ID:        uuid.NewString(),
			Content:   in.Content,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	t.list.replace(items)
	return tooling.Ok(format(items), nil), nil
}
