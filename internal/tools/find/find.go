// Package find implements the find tool: regex search over file names
// and/or file contents under a workspace directory.
package find

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/shai-run/agentcore/internal/tooling"
)

// FindType selects what find matches against.
type FindType string

const (
	TypeContent  FindType = "content"
	TypeFilename FindType = "filename"
	TypeBoth     FindType = "both"
)

// Params is the find tool's parameter shape.
type Params struct {
	Pattern          string   `json:"pattern" jsonschema:"required,description=Regular expression to match."`
	Path             string   `json:"path,omitempty" jsonschema:"description=Directory to search under. Defaults to \".\"."`
	IncludeExtensions []string `json:"include_extensions,omitempty" jsonschema:"description=Only search files with these extensions."`
	ExcludePatterns  []string `json:"exclude_patterns,omitempty" jsonschema:"description=Glob patterns of paths to skip."`
	MaxResults       int      `json:"max_results,omitempty" jsonschema:"description=Maximum matches to return. Defaults to 100."`
	CaseSensitive    bool     `json:"case_sensitive,omitempty"`
	FindType         FindType `json:"find_type,omitempty" jsonschema:"description=content, filename, or both. Defaults to content."`
	ShowLineNumbers  bool     `json:"show_line_numbers,omitempty"`
	ContextLines     int      `json:"context_lines,omitempty" jsonschema:"description=Lines of context to include around each content match."`
	WholeWord        bool     `json:"whole_word,omitempty"`
}

// Match is one result record.
type Match struct {
	FilePath     string   `json:"file_path"`
	LineNumber   *int     `json:"line_number,omitempty"`
	LineContent  *string  `json:"line_content,omitempty"`
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
	MatchType    string   `json:"match_type"`
}

// Tool implements the find tool.
type Tool struct {
	resolver tooling.Resolver
	schema   json.RawMessage
}

// New constructs a find tool scoped to workspaceRoot.
func New(workspaceRoot string) *Tool {
	return &Tool{resolver: tooling.Resolver{Root: workspaceRoot}, schema: tooling.BuildSchema(Params{})}
}

func (t *Tool) Name() string        { return "find" }
func (t *Tool) Description() string { return "Search file names and/or contents by regular expression." }
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityRead}
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return tooling.Err("pattern is required", nil), nil
	}
	searchRoot := p.Path
	if strings.TrimSpace(searchRoot) == "" {
		searchRoot = "."
	}
	findType := p.FindType
	if findType == "" {
		findType = TypeContent
	}
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	expr := p.Pattern
	if p.WholeWord {
		expr = `\b(?:` + expr + `)\b`
	}
	if !p.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return tooling.Err(fmt.Sprintf("invalid pattern: %v", err), nil), nil
	}

	resolved, err := t.resolver.Resolve(searchRoot)
	if err != nil {
		return tooling.Err(err.Error(), nil), nil
	}

	var matches []Match
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil || len(matches) >= maxResults {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(resolved, path)
		if excluded(rel, p.ExcludePatterns) {
			return nil
		}
		if len(p.IncludeExtensions) > 0 && !hasExtension(rel, p.IncludeExtensions) {
			return nil
		}

		if findType == TypeFilename || findType == TypeBoth {
			if re.MatchString(filepath.Base(rel)) {
				matches = append(matches, Match{FilePath: rel, MatchType: "filename"})
			}
		}
		if (findType == TypeContent || findType == TypeBoth) && len(matches) < maxResults {
			fileMatches, err := searchContent(path, rel, re, p)
			if err == nil {
				matches = append(matches, fileMatches...)
			}
		}
		return nil
	})
	if walkErr != nil {
		return tooling.Err(walkErr.Error(), nil), nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].FilePath < matches[j].FilePath })
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	payload, err := json.MarshalIndent(matches, "", "  ")
	if err != nil {
		return tooling.Err(fmt.Sprintf("encode result: %v", err), nil), nil
	}
	return tooling.Ok(string(payload), map[string]any{"count": len(matches)}), nil
}

func excluded(rel string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func hasExtension(rel string, exts []string) bool {
	ext := strings.TrimPrefix(filepath.Ext(rel), ".")
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

func searchContent(path, rel string, re *regexp.Regexp, p Params) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	var out []Match
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		m := Match{FilePath: rel, MatchType: "content"}
		if p.ShowLineNumbers {
			n := i + 1
			m.LineNumber = &n
		}
		content := line
		m.LineContent = &content
		if p.ContextLines > 0 {
			before := i - p.ContextLines
			if before < 0 {
				before = 0
			}
			after := i + p.ContextLines + 1
			if after > len(lines) {
				after = len(lines)
			}
			m.ContextBefore = append([]string{}, lines[before:i]...)
			m.ContextAfter = append([]string{}, lines[i+1:after]...)
		}
		out = append(out, m)
	}
	return out, nil
}
