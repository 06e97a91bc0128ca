// Package edit implements the edit tool: a single find/replace on a file
// that must already have been read in this process.
package edit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shai-run/agentcore/internal/diff"
	"github.com/shai-run/agentcore/internal/fsops"
	"github.com/shai-run/agentcore/internal/tooling"
)

// Params is the edit tool's parameter shape.
type Params struct {
	Path       string `json:"path" jsonschema:"required,description=Path to edit relative to the workspace root."`
	OldString  string `json:"old_string" jsonschema:"required,description=Exact text to find. Must be unique in the file unless replace_all is set."`
	NewString  string `json:"new_string" jsonschema:"required,description=Replacement text."`
	ReplaceAll bool   `json:"replace_all" jsonschema:"description=Replace every occurrence of old_string instead of requiring it to be unique."`
}

// Tool implements the edit tool.
type Tool struct {
	resolver tooling.Resolver
	log      *fsops.Log
	schema   json.RawMessage
}

// New constructs an edit tool scoped to workspaceRoot, sharing log with
// the read tool so the read-before-edit invariant can be checked.
func New(workspaceRoot string, log *fsops.Log) *Tool {
	return &Tool{
		resolver: tooling.Resolver{Root: workspaceRoot},
		log:      log,
		schema:   tooling.BuildSchema(Params{}),
	}
}

func (t *Tool) Name() string { return "edit" }
func (t *Tool) Description() string {
	return "Replace an exact string in a file that has previously been read. Fails if old_string is not unique unless replace_all is set."
}
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityRead, tooling.CapabilityWrite}
}

func (t *Tool) parse(params json.RawMessage) (Params, string, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return p, "", fmt.Errorf("invalid parameters: %w", err)
	}
	if p.OldString == p.NewString {
		return p, "", fmt.Errorf("old_string and new_string must differ")
	}
	resolved, err := t.resolver.Resolve(p.Path)
	if err != nil {
		return p, "", err
	}
	return p, resolved, nil
}

// apply computes the new file content, enforcing uniqueness unless
// ReplaceAll is set. It does not touch disk or the operation log — callers
// use it for both Preview and Execute so the two never diverge.
func apply(content string, p Params) (string, int, error) {
	count := strings.Count(content, p.OldString)
	if count == 0 {
		return "", 0, fmt.Errorf("old_string not found in file")
	}
	if count > 1 && !p.ReplaceAll {
		return "", 0, fmt.Errorf("old_string matches %d locations; provide more surrounding context or set replace_all", count)
	}
	if p.ReplaceAll {
		return strings.ReplaceAll(content, p.OldString, p.NewString), count, nil
	}
	return strings.Replace(content, p.OldString, p.NewString, 1), 1, nil
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	p, resolved, err := t.parse(params)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	if err := t.log.ValidateEditPermission(resolved); err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return tooling.Err(fmt.Sprintf("read file: %v", err), nil), nil
	}
	original := string(data)

	updated, replacements, err := apply(original, p)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return tooling.Err(fmt.Sprintf("write file: %v", err), nil), nil
	}
	t.log.RecordEdit(resolved)

	return tooling.Ok(diff.Render(original, updated), map[string]any{
		"path":         p.Path,
		"replacements": replacements,
	}), nil
}

// Preview returns the diff the edit would produce without writing to disk.
func (t *Tool) Preview(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	p, resolved, err := t.parse(params)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}
	if err := t.log.ValidateEditPermission(resolved); err != nil {
		return tooling.Err(err.Error(), nil), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return tooling.Err(fmt.Sprintf("read file: %v", err), nil), nil
	}
	original := string(data)
	updated, replacements, err := apply(original, p)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}
	return tooling.Ok(diff.Render(original, updated), map[string]any{
		"path":         p.Path,
		"replacements": replacements,
		"preview":      true,
	}), nil
}
