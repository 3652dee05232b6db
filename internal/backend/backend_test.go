package backend

import (
	"io"
	"testing"
	"time"

	"github.com/Iron-Ham/boltkit/internal/errors"
)

func TestProcessStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ProcessStatus
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCompleted, true},
		{StatusRunning, StatusErrored, true},
		{StatusRunning, StatusTerminated, true},
		{StatusRunning, StatusPending, false},
		{StatusRunning, StatusRunning, false},
		{StatusCompleted, StatusErrored, false},
		{StatusTerminated, StatusRunning, false},
		{StatusPending, ProcessStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProcessStatus_IsTerminal(t *testing.T) {
	for _, s := range []ProcessStatus{StatusCompleted, StatusErrored, StatusTerminated} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false", s)
		}
	}
	for _, s := range []ProcessStatus{StatusPending, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true", s)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"src/app.ts", "src/app.ts", false},
		{"./src/../index.html", "index.html", false},
		{"/home/project/pkg/a.go", "pkg/a.go", false},
		{".", ".", false},
		{"", ".", false},
		{"../outside", "", true},
		{"/etc/passwd", "", true},
	}
	for _, tt := range tests {
		got, err := Resolve(KindLocal, "/home/project", "stat", tt.in)
		if tt.wantErr {
			if errors.KindOf(err) != errors.KindPermissionDenied {
				t.Errorf("Resolve(%q) error = %v, want PermissionDenied", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIgnoreMatcher(t *testing.T) {
	m, err := NewIgnoreMatcher([]string{"**/node_modules/**", "**/.git/**", "*.log"})
	if err != nil {
		t.Fatalf("NewIgnoreMatcher() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"node_modules", true},
		{"node_modules/react/index.js", true},
		{"web/node_modules/x", true},
		{".git/HEAD", true},
		{"debug.log", true},
		{"logs/debug.log", false},
		{"src/index.ts", false},
		{"node_modules_backup/a", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	var nilMatcher *IgnoreMatcher
	if nilMatcher.Match("anything") {
		t.Error("nil matcher should match nothing")
	}
}

func TestIgnoreMatcher_Invalid(t *testing.T) {
	if _, err := NewIgnoreMatcher([]string{"[oops"}); err == nil {
		t.Error("NewIgnoreMatcher() expected error for invalid pattern")
	}
}

func TestNotSupported(t *testing.T) {
	err := NotSupported(KindRemote, "symlink", "a")
	if errors.KindOf(err) != errors.KindNotSupported {
		t.Errorf("KindOf() = %v, want NotSupported", errors.KindOf(err))
	}
	if !errors.Is(err, errors.ErrNotSupported) {
		t.Error("error should match ErrNotSupported")
	}
	if errors.CodeOf(err) != "ENOTSUP" {
		t.Errorf("CodeOf() = %q", errors.CodeOf(err))
	}
}

func TestStream(t *testing.T) {
	s := NewStream()

	got := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(s)
		got <- data
	}()

	_, _ = s.WriteString("hello ")
	time.Sleep(10 * time.Millisecond)
	_, _ = s.Write([]byte("world"))
	_ = s.Close()

	select {
	case data := <-got:
		if string(data) != "hello world" {
			t.Errorf("ReadAll() = %q, want %q", data, "hello world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not see EOF after Close")
	}

	if _, err := s.WriteString("late"); err != io.ErrClosedPipe {
		t.Errorf("Write after Close error = %v, want io.ErrClosedPipe", err)
	}
	if !s.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestStream_CloseWithError(t *testing.T) {
	s := NewStream()
	_, _ = s.WriteString("x")
	_ = s.CloseWithError(io.ErrUnexpectedEOF)

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	if n != 1 || err != nil {
		t.Errorf("Read() = %d, %v; want buffered data first", n, err)
	}
	if _, err := s.Read(buf); err != io.ErrUnexpectedEOF {
		t.Errorf("Read() error = %v, want io.ErrUnexpectedEOF", err)
	}
}
