// Package ls implements the ls tool: a directory listing with optional
// recursion, hidden-file filtering, and long-format detail.
package ls

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shai-run/agentcore/internal/tooling"
)

// Params is the ls tool's parameter shape.
type Params struct {
	Directory   string `json:"directory,omitempty" jsonschema:"description=Directory to list relative to the workspace root. Defaults to \".\"."`
	Recursive   bool   `json:"recursive,omitempty" jsonschema:"description=Recurse into subdirectories."`
	ShowHidden  bool   `json:"show_hidden,omitempty" jsonschema:"description=Include dotfiles."`
	LongFormat  bool   `json:"long_format,omitempty" jsonschema:"description=Show permissions, size, and modification time."`
	MaxDepth    int    `json:"max_depth,omitempty" jsonschema:"description=Maximum recursion depth when recursive is set."`
	MaxFiles    int    `json:"max_files,omitempty" jsonschema:"description=Maximum number of entries to return before truncating."`
}

// Tool implements the ls tool.
type Tool struct {
	resolver tooling.Resolver
	schema   json.RawMessage
}

// New constructs an ls tool scoped to workspaceRoot.
func New(workspaceRoot string) *Tool {
	return &Tool{resolver: tooling.Resolver{Root: workspaceRoot}, schema: tooling.BuildSchema(Params{})}
}

func (t *Tool) Name() string        { return "ls" }
func (t *Tool) Description() string { return "List directory contents." }
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityRead}
}

type entry struct {
	path  string // relative to the listed directory, for display
	info  fs.FileInfo
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}
	dir := p.Directory
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	maxFiles := p.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1000
	}

	resolved, err := t.resolver.Resolve(dir)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	var entries []entry
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(resolved, path)
		if rel == "." {
			return nil
		}
		depth := len(strings.Split(rel, string(filepath.Separator)))
		if !p.ShowHidden && strings.HasPrefix(filepath.Base(path), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.Recursive && depth > 1 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Recursive && p.MaxDepth > 0 && depth > p.MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, entry{path: rel, info: info})
		return nil
	})
	if walkErr != nil {
		return tooling.Err(walkErr.Error(), nil), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	truncated := false
	if len(entries) > maxFiles {
		entries = entries[:maxFiles]
		truncated = true
	}

	var b strings.Builder
	for _, e := range entries {
		name := e.path
		if e.info.IsDir() {
			name += "/"
		}
		if p.LongFormat {
			fmt.Fprintf(&b, "%s %10d %s %s\n", e.info.Mode().String(), e.info.Size(), e.info.ModTime().Format("2006-01-02 15:04"), name)
		} else {
			b.WriteString(name)
			b.WriteString("\n")
		}
	}
	if truncated {
		fmt.Fprintf(&b, "... (output truncated, showing first %d files)\n", maxFiles)
	}

	return tooling.Ok(b.String(), map[string]any{"count": len(entries), "truncated": truncated}), nil
}
