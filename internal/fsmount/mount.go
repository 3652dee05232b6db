// Package fsmount exposes a sandbox backend as a file system with node-like
// semantics, identical on every backend. It serves collaborators that were
// written against a POSIX file API, such as version control helpers or a
// file tree view, and also implements io/fs so Go code can walk the
// sandbox with fs.WalkDir.
package fsmount

import (
	"context"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/logging"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// Options configures a Mount.
type Options struct {
	// Bus, when set, receives a file.changed event for every watch event.
	Bus    *event.Bus
	Logger *logging.Logger
}

// Mount is the file-system facade over one backend.
type Mount struct {
	b      backend.Backend
	bus    *event.Bus
	logger *logging.Logger
}

// New mounts b.
func New(b backend.Backend, opts Options) *Mount {
	return &Mount{
		b:      b,
		bus:    opts.Bus,
		logger: logging.OrNop(opts.Logger).WithBackend(string(b.Kind())),
	}
}

// Backend returns the mounted backend.
func (m *Mount) Backend() backend.Backend { return m.b }

// ReadFile returns the contents of a file.
func (m *Mount) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := m.b.ReadFile(ctx, path)
	if err != nil {
		return nil, statError("open", path, err)
	}
	return data, nil
}

// ReadFileString returns the contents of a file as UTF-8 text.
func (m *Mount) ReadFileString(ctx context.Context, path string) (string, error) {
	data, err := m.ReadFile(ctx, path)
	return string(data), err
}

// WriteFile replaces the contents of a file. The parent directory must
// exist.
func (m *Mount) WriteFile(ctx context.Context, path string, data []byte) error {
	return statError("open", path, m.b.WriteFile(ctx, path, data))
}

// WriteString replaces the contents of a file with text.
func (m *Mount) WriteString(ctx context.Context, path, text string) error {
	return m.WriteFile(ctx, path, []byte(text))
}

// Mkdir creates a directory. Without recursive an existing path is EEXIST
// and a missing parent is ENOENT.
func (m *Mount) Mkdir(ctx context.Context, path string, recursive bool) error {
	return statError("mkdir", path, m.b.Mkdir(ctx, path, recursive))
}

// Readdir lists the names of the children of a directory, sorted.
func (m *Mount) Readdir(ctx context.Context, path string) ([]string, error) {
	entries, err := m.b.ReadDir(ctx, path)
	if err != nil {
		return nil, statError("scandir", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// Stat describes a path.
func (m *Mount) Stat(ctx context.Context, path string) (*Stats, error) {
	return m.stat(ctx, "stat", path)
}

// Lstat describes a path. Links are never exposed, so it matches Stat.
func (m *Mount) Lstat(ctx context.Context, path string) (*Stats, error) {
	return m.stat(ctx, "lstat", path)
}

func (m *Mount) stat(ctx context.Context, syscallName, path string) (*Stats, error) {
	info, err := m.b.Stat(ctx, path)
	if err != nil {
		return nil, statError(syscallName, path, err)
	}
	return &Stats{FileInfo: info}, nil
}

// Unlink removes a file. Directories are EISDIR.
func (m *Mount) Unlink(ctx context.Context, path string) error {
	st, err := m.stat(ctx, "unlink", path)
	if err != nil {
		return err
	}
	if st.IsDirectory() {
		return newStatError("EISDIR", "unlink", path, nil)
	}
	return statError("unlink", path, m.b.Remove(ctx, path, false))
}

// Rmdir removes a directory. Without recursive a non-empty directory is
// ENOTEMPTY; a file is ENOTDIR.
func (m *Mount) Rmdir(ctx context.Context, path string, recursive bool) error {
	st, err := m.stat(ctx, "rmdir", path)
	if err != nil {
		return err
	}
	if !st.IsDirectory() {
		return newStatError("ENOTDIR", "rmdir", path, nil)
	}
	return statError("rmdir", path, m.b.Remove(ctx, path, recursive))
}

// Symlink is not supported by any backend.
func (m *Mount) Symlink(ctx context.Context, target, path string) error {
	return statError("symlink", path, m.b.Symlink(ctx, target, path))
}

// Readlink is not supported by any backend.
func (m *Mount) Readlink(ctx context.Context, path string) (string, error) {
	target, err := m.b.Readlink(ctx, path)
	return target, statError("readlink", path, err)
}

// Exists reports whether path can be stat'ed.
func (m *Mount) Exists(ctx context.Context, path string) bool {
	_, err := m.b.Stat(ctx, path)
	return err == nil
}

// relative returns the workdir-relative form of path.
func (m *Mount) relative(op, path string) (string, error) {
	rel, err := backend.Resolve(m.b.Kind(), m.b.WorkDir(), op, path)
	if err != nil {
		return "", statError(op, path, err)
	}
	return pathutil.Clean(rel), nil
}
