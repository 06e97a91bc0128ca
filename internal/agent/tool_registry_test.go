package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shai-run/agentcore/internal/claims"
	"github.com/shai-run/agentcore/internal/tooling"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub" }
func (s stubTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`)
}
func (s stubTool) Capabilities() []tooling.Capability { return nil }
func (s stubTool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	return tooling.Ok("ok", nil), nil
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewToolRegistry(claims.NewManager())
	_, err := reg.Dispatch(context.Background(), "missing", json.RawMessage(`{}`))
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestDispatchDeniedWithoutClaim(t *testing.T) {
	reg := NewToolRegistry(claims.NewManager())
	reg.Register(stubTool{name: "stub"})
	_, err := reg.Dispatch(context.Background(), "stub", json.RawMessage(`{"x":"y"}`))
	if !errors.Is(err, ErrToolDenied) {
		t.Fatalf("expected ErrToolDenied, got %v", err)
	}
}

func TestDispatchSucceedsWithSudo(t *testing.T) {
	mgr := claims.NewManager()
	mgr.SetSudo(true)
	reg := NewToolRegistry(mgr)
	reg.Register(stubTool{name: "stub"})
	result, err := reg.Dispatch(context.Background(), "stub", json.RawMessage(`{"x":"y"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
}

func TestDispatchRejectsSchemaViolation(t *testing.T) {
	mgr := claims.NewManager()
	mgr.SetSudo(true)
	reg := NewToolRegistry(mgr)
	reg.Register(stubTool{name: "stub"})
	_, err := reg.Dispatch(context.Background(), "stub", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected schema validation error for missing required field")
	}
}
