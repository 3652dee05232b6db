// Package backend defines the uniform execution contract implemented by the
// in-process sandbox backend and the remote polling backend.
//
// Callers code exclusively against [Backend]; no backend-specific type
// crosses this boundary. Paths are POSIX paths relative to the backend's
// working directory. Errors are *errors.BackendError or *errors.ProcessError
// values classified with the shared taxonomy.
package backend

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/Iron-Ham/boltkit/internal/errors"
)

// Kind names a backend implementation.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// FileSystem is the file half of the execution contract.
type FileSystem interface {
	// Mkdir creates a directory. With recursive set, missing parents are
	// created and an existing directory is not an error.
	Mkdir(ctx context.Context, path string, recursive bool) error

	// ReadFile returns the full contents of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the contents of a file, creating it if needed.
	// The parent directory must exist.
	WriteFile(ctx context.Context, path string, data []byte) error

	// Remove deletes a file or, with recursive set, a directory tree.
	Remove(ctx context.Context, path string, recursive bool) error

	// ReadDir lists the direct children of a directory, sorted by name.
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// Stat describes a path. A missing path yields a BackendError with
	// Kind NotFound and Code "ENOENT".
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Watch subscribes to changes under path. The callback may be invoked
	// from a backend goroutine; it must not block for long.
	Watch(ctx context.Context, path string, opts WatchOptions, fn func(FileChangeEvent)) (Subscription, error)
}

// Processes is the process half of the execution contract.
type Processes interface {
	// Spawn starts a long-lived process and returns immediately.
	Spawn(ctx context.Context, req SpawnRequest) (RawProcess, error)

	// Exec runs a one-shot command to completion.
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)

	// Terminate stops a spawned process. Terminating an exited process is not an error.
	Terminate(ctx context.Context, id string) error

	// SendInput writes to a spawned process's stdin.
	SendInput(ctx context.Context, id string, input string) error

	// Status reports the current state of a spawned process.
	Status(ctx context.Context, id string) (ProcessInfo, error)
}

// Backend is the full execution contract.
type Backend interface {
	FileSystem
	Processes

	// Kind identifies the implementation, for logging only.
	Kind() Kind

	// WorkDir is the directory relative paths resolve against.
	WorkDir() string

	// Symlink and Readlink are unsupported on every backend and always fail
	// with a NotSupported error.
	Symlink(ctx context.Context, target, link string) error
	Readlink(ctx context.Context, path string) (string, error)

	// Close releases backend resources: watchers, pollers and processes.
	Close() error
}

// FileType distinguishes entries in directory listings.
type FileType int

const (
	TypeFile FileType = iota
	TypeDir
	TypeOther
)

// String returns a human-readable name for the file type.
func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	default:
		return "other"
	}
}

// DirEntry is one child of a directory.
type DirEntry struct {
	Name string
	Type FileType
}

// IsDir reports whether the entry is a directory.
func (e DirEntry) IsDir() bool { return e.Type == TypeDir }

// FileInfo describes a path.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	Type    FileType
}

// IsDir reports whether the path is a directory.
func (fi FileInfo) IsDir() bool { return fi.Type == TypeDir }

// ChangeType classifies a file change event.
type ChangeType string

const (
	ChangeAdd       ChangeType = "add"
	ChangeAddDir    ChangeType = "addDir"
	ChangeUnlink    ChangeType = "unlink"
	ChangeUnlinkDir ChangeType = "unlinkDir"
	ChangeModify    ChangeType = "change"
	// ChangeRename is the coarse event the polling backend synthesizes for
	// both creations and deletions, since it cannot tell them apart from a
	// native rename.
	ChangeRename ChangeType = "rename"
)

// FileChangeEvent reports a change below a watched path.
type FileChangeEvent struct {
	Type ChangeType
	Path string
}

// WatchOptions tunes a subscription.
type WatchOptions struct {
	// Ignore lists glob patterns (matched against workdir-relative paths).
	Ignore []string
	// PollInterval overrides the snapshot interval on polling backends.
	PollInterval time.Duration
}

// Subscription is a live watch.
type Subscription interface {
	// Close stops event delivery. No callback runs after Close returns.
	Close() error
}

// SpawnRequest describes a long-lived process.
type SpawnRequest struct {
	// Command is run by the backend's shell when Args is empty, otherwise it
	// is the program and Args its arguments.
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

// ExecRequest describes a one-shot command.
type ExecRequest struct {
	Command string
	Cwd     string
	Env     map[string]string
	Timeout time.Duration
}

// ExecResult is the outcome of a one-shot command.
type ExecResult struct {
	ID       string
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessStatus is the lifecycle state of a process.
type ProcessStatus string

const (
	StatusPending    ProcessStatus = "pending"
	StatusRunning    ProcessStatus = "running"
	StatusCompleted  ProcessStatus = "completed"
	StatusErrored    ProcessStatus = "errored"
	StatusTerminated ProcessStatus = "terminated"
)

// IsTerminal reports whether no further transition can happen.
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusErrored || s == StatusTerminated
}

// rank orders statuses so transitions can be checked for monotonicity.
func (s ProcessStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusErrored, StatusTerminated:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a forward move.
// Terminal states never change.
func (s ProcessStatus) CanTransition(next ProcessStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ProcessInfo is a point-in-time view of a process.
type ProcessInfo struct {
	ID       string
	Status   ProcessStatus
	ExitCode int
}

// RawProcess is a backend's handle to a spawned process.
type RawProcess interface {
	// ID is the backend-assigned process identifier.
	ID() string

	// Output streams combined stdout and stderr; it reaches EOF once the
	// process has exited and its output has been drained.
	Output() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	// A context error aborts the wait, not the process.
	Wait(ctx context.Context) (int, error)
}

// NotSupported returns the error both backends use for symlink operations.
func NotSupported(kind Kind, op, path string) error {
	return errors.NewBackendError(errors.KindNotSupported, op, nil).
		WithPath(path).
		WithBackend(string(kind)).
		WithMessage(op + " is not supported by the " + string(kind) + " backend")
}
