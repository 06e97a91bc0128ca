// Package read implements the read tool: returns a file's text content,
// optionally restricted to a line range and prefixed with line numbers.
package read

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shai-run/agentcore/internal/fsops"
	"github.com/shai-run/agentcore/internal/tooling"
)

// Params is the read tool's parameter shape.
type Params struct {
	Path           string `json:"path" jsonschema:"required,description=Path to the file to read relative to the workspace root."`
	LineStart      int    `json:"line_start,omitempty" jsonschema:"description=1-based first line to include (inclusive)."`
	LineEnd        int    `json:"line_end,omitempty" jsonschema:"description=1-based last line to include (inclusive)."`
	ShowLineNumbers bool  `json:"show_line_numbers" jsonschema:"description=Prefix each returned line with its 1-based line number."`
}

// Tool implements the read tool.
type Tool struct {
	resolver tooling.Resolver
	log      *fsops.Log
	schema   json.RawMessage
}

// New constructs a read tool scoped to workspaceRoot, recording every
// successful read into log so later edits can satisfy the
// read-before-edit invariant.
func New(workspaceRoot string, log *fsops.Log) *Tool {
	return &Tool{
		resolver: tooling.Resolver{Root: workspaceRoot},
		log:      log,
		schema:   tooling.BuildSchema(Params{}),
	}
}

func (t *Tool) Name() string        { return "read" }
func (t *Tool) Description() string { return "Read a file's contents, optionally restricted to a line range." }
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityRead}
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

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return tooling.Err("File does not exist", nil), nil
	}
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}
	if info.IsDir() {
		return tooling.Err("Path is not a file", nil), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}
	t.log.RecordRead(resolved)

	lines := strings.Split(string(data), "\n")
	// A trailing newline produces one spurious empty final element; drop
	// it so 1-based line numbers line up with what a user would count.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	start, end := 1, len(lines)
	if p.LineStart > 0 {
		start = p.LineStart
	}
	if p.LineEnd > 0 {
		end = p.LineEnd
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	if start <= end {
		for i := start; i <= end; i++ {
			line := lines[i-1]
			if p.ShowLineNumbers {
				fmt.Fprintf(&b, "%4d: %s\n", i, line)
			} else {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}

	return tooling.Ok(b.String(), map[string]any{
		"path":        p.Path,
		"total_lines": len(lines),
	}), nil
}
