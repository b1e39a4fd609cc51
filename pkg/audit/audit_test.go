package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "security.log")
	l, err := NewFileLogger(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger() failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestFileLogger_LogAndQuery(t *testing.T) {
	l, _ := newTestLogger(t)

	events := []*Event{
		NewEvent("alice", ActionLogin, "").WithSuccess(),
		NewEvent("alice", ActionLogin, "").WithError(errors.New("bad password")),
		NewEvent("bob", ActionLogout, "").WithSuccess(),
	}
	for _, e := range events {
		if err := l.Log(e); err != nil {
			t.Fatalf("Log() failed: %v", err)
		}
	}

	got, err := l.Query(Filter{Actor: "alice"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Query(actor=alice) returned %d events, want 2", len(got))
	}

	failures, err := l.Query(Filter{FailureOnly: true})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(failures) != 1 || failures[0].Error != "bad password" {
		t.Errorf("Query(failures) = %+v, want single bad-password event", failures)
	}
}

func TestFileLogger_SkipsMalformedLines(t *testing.T) {
	l, path := newTestLogger(t)

	if err := l.Log(NewEvent("alice", ActionLogin, "").WithSuccess()); err != nil {
		t.Fatalf("Log() failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("opening log for corruption: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("writing corrupt line: %v", err)
	}
	_ = f.Close()
	if err := l.Log(NewEvent("bob", ActionLogin, "").WithSuccess()); err != nil {
		t.Fatalf("Log() after corruption failed: %v", err)
	}

	got, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Query() returned %d events, want 2 (corrupt line skipped)", len(got))
	}
}

func TestDefaultLogger_NoopWhenUnset(t *testing.T) {
	if err := Log(NewEvent("alice", ActionLogin, "")); err != nil {
		t.Errorf("Log() without default logger should be a no-op, got %v", err)
	}
}
