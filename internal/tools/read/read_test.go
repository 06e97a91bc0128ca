package read

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shai-run/agentcore/internal/fsops"
)

func TestReadWholeFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("line1\nline2\nline3"), 0o644)
	log := fsops.New()
	tool := New(dir, log)

	params, _ := json.Marshal(Params{Path: "a.txt"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	if !log.HasBeenRead(filepath.Join(dir, "a.txt")) {
		t.Fatalf("expected read to be recorded for read-before-edit")
	}
}

func TestReadLineRange(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\nfour"), 0o644)
	tool := New(dir, fsops.New())

	params, _ := json.Marshal(Params{Path: "a.txt", LineStart: 2, LineEnd: 3, ShowLineNumbers: true})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := "   2: two\n   3: three\n"
	if result.Output != want {
		t.Fatalf("unexpected output: %q, want %q", result.Output, want)
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir, fsops.New())
	params, _ := json.Marshal(Params{Path: "missing.txt"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.Error != "File does not exist" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReadDirectoryIsError(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)
	tool := New(dir, fsops.New())
	params, _ := json.Marshal(Params{Path: "sub"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.Error != "Path is not a file" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
