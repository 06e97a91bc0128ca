package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shai-run/agentcore/internal/claims"
	"github.com/shai-run/agentcore/internal/tooling"
)

// MaxToolParamsSize bounds the raw argument JSON accepted for any single
// tool call, guarding against a misbehaving provider streaming an
// unbounded argument blob.
const MaxToolParamsSize = 10 << 20 // 10MB

// ToolRegistry holds every tool available to the agent and mediates
// dispatch through schema validation and the claim manager.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]tooling.Tool
	manager *claims.Manager
}

// NewToolRegistry creates an empty registry gated by manager. A nil
// manager is treated as "deny everything" rather than "permit everything"
// — callers that want an ungated registry must pass a Manager with
// SetSudo(true).
func NewToolRegistry(manager *claims.Manager) *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]tooling.Tool), manager: manager}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *ToolRegistry) Register(tool tooling.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (tooling.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in no particular order.
func (r *ToolRegistry) List() []tooling.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tooling.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Schemas returns a name -> JSON Schema map, suitable for handing to a
// provider adapter's tool-list conversion.
func (r *ToolRegistry) Schemas() map[string]json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(r.tools))
	for name, t := range r.tools {
		out[name] = t.ParameterSchema()
	}
	return out
}

// ErrToolDenied is returned (wrapped) when the claim manager rejects a
// call. It is distinct from ErrToolNotFound so callers can tell "you can't
// do that" apart from "that tool doesn't exist".
var ErrToolDenied = fmt.Errorf("tool call denied by permission policy")

// Dispatch validates args against the tool's schema, checks the claim
// manager, and executes the tool. It never returns a Go error for a tool
// failure — those come back as a Result with Success=false — reserving
// the error return for dispatch-level problems (unknown tool, oversized
// args, schema violation, permission denial).
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args json.RawMessage) (*tooling.Result, error) {
	if len(args) > MaxToolParamsSize {
		return nil, fmt.Errorf("tool %q: arguments exceed maximum size", name)
	}

	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if err := tooling.ValidateAgainstSchema(tool.ParameterSchema(), args); err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	if r.manager == nil || !r.manager.IsPermitted(name, args) {
		return nil, fmt.Errorf("%w: %s", ErrToolDenied, name)
	}

	return tool.Execute(ctx, args)
}

// Preview behaves like Dispatch but calls Preview on tools that implement
// tooling.Previewer, returning ErrToolNotFound-wrapped error for tools that
// don't (edit and multiedit are the only previewable tools today).
func (r *ToolRegistry) Preview(ctx context.Context, name string, args json.RawMessage) (*tooling.Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	previewer, ok := tool.(tooling.Previewer)
	if !ok {
		return nil, fmt.Errorf("tool %q does not support preview", name)
	}
	if err := tooling.ValidateAgainstSchema(tool.ParameterSchema(), args); err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return previewer.Preview(ctx, args)
}
