package bash

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestBashSuccess(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(Params{Command: "echo hello"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || strings.TrimSpace(result.Output) != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBashNonZeroExit(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(Params{Command: "exit 3"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.Error != "Command failed with exit code 3" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBashTimeout(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(Params{Command: "sleep 5", Timeout: 1})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.Error != "Command timed out after 1 seconds" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBashStderrAppended(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(Params{Command: "echo out; echo err 1>&2"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result.Output, "--- STDERR ---") {
		t.Fatalf("expected stderr section, got %q", result.Output)
	}
}
