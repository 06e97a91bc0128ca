// Package write implements the write tool: creates or overwrites a file
// with the given content, creating parent directories as needed.
package write

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shai-run/agentcore/internal/fsops"
	"github.com/shai-run/agentcore/internal/tooling"
)

// Params is the write tool's parameter shape.
type Params struct {
	Path    string `json:"path" jsonschema:"required,description=Path to write relative to the workspace root."`
	Content string `json:"content" jsonschema:"required,description=Full content to write to the file."`
}

// Tool implements the write tool.
type Tool struct {
	resolver tooling.Resolver
	log      *fsops.Log
	schema   json.RawMessage
}

// New constructs a write tool scoped to workspaceRoot.
func New(workspaceRoot string, log *fsops.Log) *Tool {
	return &Tool{
		resolver: tooling.Resolver{Root: workspaceRoot},
		log:      log,
		schema:   tooling.BuildSchema(Params{}),
	}
}

func (t *Tool) Name() string        { return "write" }
func (t *Tool) Description() string { return "Create or overwrite a file with the given content." }
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityWrite}
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}

	resolved, err := t.resolver.Resolve(p.Path)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return tooling.Err(fmt.Sprintf("create parent directories: %v", err), nil), nil
	}
	if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return tooling.Err(fmt.Sprintf("write file: %v", err), nil), nil
	}
	t.log.RecordWrite(resolved)

	return tooling.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), p.Path), map[string]any{
		"operation": "write",
		"path":      p.Path,
		"bytes":     len(p.Content),
		"lines":     strings.Count(p.Content, "\n") + 1,
	}), nil
}
