// Package multiedit implements the multiedit tool: a sequence of
// find/replace edits applied in order, written atomically as one file
// write only if every edit in the batch succeeds.
package multiedit

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

// Edit is one find/replace step in a multiedit batch.
type Edit struct {
	OldString  string `json:"old_string" jsonschema:"required,description=Exact text to find."`
	NewString  string `json:"new_string" jsonschema:"required,description=Replacement text."`
	ReplaceAll bool   `json:"replace_all" jsonschema:"description=Replace every occurrence instead of requiring a unique match."`
}

// Params is the multiedit tool's parameter shape.
type Params struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Path to edit relative to the workspace root."`
	Edits    []Edit `json:"edits" jsonschema:"required,description=Ordered list of find/replace edits to apply."`
}

// Tool implements the multiedit tool.
type Tool struct {
	resolver tooling.Resolver
	log      *fsops.Log
	schema   json.RawMessage
}

// New constructs a multiedit tool scoped to workspaceRoot.
func New(workspaceRoot string, log *fsops.Log) *Tool {
	return &Tool{
		resolver: tooling.Resolver{Root: workspaceRoot},
		log:      log,
		schema:   tooling.BuildSchema(Params{}),
	}
}

func (t *Tool) Name() string { return "multiedit" }
func (t *Tool) Description() string {
	return "Apply a sequence of find/replace edits to a previously-read file as one atomic write."
}
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityRead, tooling.CapabilityWrite}
}

// applyAll runs every edit in order against content in memory, failing the
// whole batch (with no partial mutation visible to the caller) on the
// first edit that cannot be applied.
func applyAll(content string, edits []Edit) (string, int, error) {
	total := 0
	for i, e := range edits {
		if e.OldString == e.NewString {
			return "", 0, fmt.Errorf("edit %d: old_string and new_string must differ", i)
		}
		count := strings.Count(content, e.OldString)
		if count == 0 {
			return "", 0, fmt.Errorf("edit %d: old_string not found", i)
		}
		if count > 1 && !e.ReplaceAll {
			return "", 0, fmt.Errorf("edit %d: old_string matches %d locations; provide more context or set replace_all", i, count)
		}
		if e.ReplaceAll {
			content = strings.ReplaceAll(content, e.OldString, e.NewString)
			total += count
		} else {
			content = strings.Replace(content, e.OldString, e.NewString, 1)
			total++
		}
	}
	return content, total, nil
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}
	if len(p.Edits) == 0 {
		return tooling.Err("edits must be non-empty", nil), nil
	}

	resolved, err := t.resolver.Resolve(p.FilePath)
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

	updated, replacements, err := applyAll(original, p.Edits)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return tooling.Err(fmt.Sprintf("write file: %v", err), nil), nil
	}
	t.log.RecordMultiEdit(resolved)

	return tooling.Ok(diff.Render(original, updated), map[string]any{
		"path":         p.FilePath,
		"edits":        len(p.Edits),
		"replacements": replacements,
	}), nil
}
