package find

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindContentMatch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc Foo() {}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.go"), []byte("package main\nfunc Bar() {}\n"), 0o644)
	tool := New(dir)

	params, _ := json.Marshal(Params{Pattern: "Foo", FindType: TypeContent, ShowLineNumbers: true})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result.Output, "a.go") || strings.Contains(result.Output, "b.go") {
		t.Fatalf("unexpected matches: %s", result.Output)
	}
}

func TestFindFilenameMatch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("k: v"), 0o644)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644)
	tool := New(dir)

	params, _ := json.Marshal(Params{Pattern: `\.yaml$`, FindType: TypeFilename})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result.Output, "config.yaml") {
		t.Fatalf("expected filename match, got %s", result.Output)
	}
}

func TestFindRespectsExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "keep.go"), []byte("target"), 0o644)
	os.WriteFile(filepath.Join(dir, "skip.go"), []byte("target"), 0o644)
	tool := New(dir)

	params, _ := json.Marshal(Params{Pattern: "target", FindType: TypeContent, ExcludePatterns: []string{"skip.go"}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(result.Output, "skip.go") {
		t.Fatalf("expected skip.go excluded, got %s", result.Output)
	}
}
