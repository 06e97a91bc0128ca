package fsops

import "testing"

func TestNewLogIsEmpty(t *testing.T) {
	l := New()
	if len(l.Operations()) != 0 {
		t.Fatalf("expected empty log")
	}
	if l.HasBeenRead("a.txt") {
		t.Fatalf("expected nothing read yet")
	}
}

func TestRecordReadMarksReadable(t *testing.T) {
	l := New()
	l.RecordRead("a.txt")
	if !l.HasBeenRead("a.txt") {
		t.Fatalf("expected a.txt to be marked read")
	}
	if err := l.ValidateEditPermission("a.txt"); err != nil {
		t.Fatalf("expected edit permission after read, got %v", err)
	}
}

func TestValidateEditPermissionWithoutRead(t *testing.T) {
	l := New()
	err := l.ValidateEditPermission("never-read.txt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "the file must be read first" {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}

func TestMultipleOperationsOrdered(t *testing.T) {
	l := New()
	l.RecordRead("a.txt")
	l.RecordEdit("a.txt")
	l.RecordWrite("b.txt")
	l.RecordMultiEdit("c.txt")

	ops := l.Operations()
	if len(ops) != 4 {
		t.Fatalf("expected 4 operations, got %d", len(ops))
	}
	kinds := []OperationKind{OpRead, OpEdit, OpWrite, OpMultiEdit}
	for i, k := range kinds {
		if ops[i].Kind != k {
			t.Fatalf("operation %d: expected %s, got %s", i, k, ops[i].Kind)
		}
	}
}

func TestPathNormalization(t *testing.T) {
	l := New()
	l.RecordRead("./sub/../a.txt")
	if err := l.ValidateEditPermission("a.txt"); err != nil {
		t.Fatalf("expected normalized path to satisfy edit permission, got %v", err)
	}
}

func TestClearResetsLog(t *testing.T) {
	l := New()
	l.RecordRead("a.txt")
	l.Clear()
	if len(l.Operations()) != 0 || l.HasBeenRead("a.txt") {
		t.Fatalf("expected log to be cleared")
	}
}
