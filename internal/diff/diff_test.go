package diff

import (
	"strings"
	"testing"
)

func TestRenderNoChanges(t *testing.T) {
	if got := Render("same\n", "same\n"); got != "No changes" {
		t.Fatalf("expected 'No changes', got %q", got)
	}
}

func TestRenderShowsDeletionAndInsertion(t *testing.T) {
	out := Render("a\nb\nc\n", "a\nx\nc\n")
	if !strings.Contains(out, "-") || !strings.Contains(out, "+") {
		t.Fatalf("expected a deletion and insertion marker, got %q", out)
	}
	if !strings.Contains(out, "b") || !strings.Contains(out, "x") {
		t.Fatalf("expected both changed lines present, got %q", out)
	}
}

func TestRenderPureInsertion(t *testing.T) {
	out := Render("a\n", "a\nb\n")
	if !strings.Contains(out, "+") {
		t.Fatalf("expected insertion marker, got %q", out)
	}
}
