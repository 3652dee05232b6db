// Package local implements the in-process sandbox backend: files live under
// a host directory, processes are host processes run by a POSIX shell.
package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

// Options configures a local Backend.
type Options struct {
	// Root is the host directory every path is relative to. It is created
	// if missing.
	Root string
	// Shell runs shell commands and command strings (default "sh").
	Shell string
	// UsePTY runs spawned processes under a pseudo-terminal.
	UsePTY  bool
	PTYCols int
	PTYRows int
	// Ignore lists glob patterns applied to every watch.
	Ignore []string
	Logger *logging.Logger
}

// Backend is the in-process sandbox backend.
type Backend struct {
	root   string
	fs     afero.Fs
	opts   Options
	ignore *backend.IgnoreMatcher
	logger *logging.Logger

	mu       sync.Mutex
	procs    map[string]*process
	watchers map[*watcher]struct{}
	closed   bool
}

var _ backend.Backend = (*Backend)(nil)

// New creates a local backend rooted at opts.Root.
func New(opts Options) (*Backend, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve workdir")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create workdir")
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}

	ignore, err := backend.NewIgnoreMatcher(opts.Ignore)
	if err != nil {
		return nil, err
	}

	return &Backend{
		root:     root,
		fs:       afero.NewBasePathFs(afero.NewOsFs(), root),
		opts:     opts,
		ignore:   ignore,
		logger:   logging.OrNop(opts.Logger).WithBackend(string(backend.KindLocal)),
		procs:    make(map[string]*process),
		watchers: make(map[*watcher]struct{}),
	}, nil
}

// Kind returns backend.KindLocal.
func (b *Backend) Kind() backend.Kind { return backend.KindLocal }

// WorkDir returns the absolute host root.
func (b *Backend) WorkDir() string { return b.root }

// resolve validates p and returns its workdir-relative form.
func (b *Backend) resolve(op, p string) (string, error) {
	return backend.Resolve(backend.KindLocal, filepath.ToSlash(b.root), op, filepath.ToSlash(p))
}

// hostPath converts a workdir-relative path to a host path.
func (b *Backend) hostPath(rel string) string {
	return filepath.Join(b.root, filepath.FromSlash(rel))
}

// relPath converts a host path beneath the root to a workdir-relative path.
func (b *Backend) relPath(host string) string {
	rel, err := filepath.Rel(b.root, host)
	if err != nil {
		return filepath.ToSlash(host)
	}
	return filepath.ToSlash(rel)
}

// Mkdir creates a directory.
func (b *Backend) Mkdir(ctx context.Context, path string, recursive bool) error {
	rel, err := b.resolve("mkdir", path)
	if err != nil {
		return err
	}
	if recursive {
		err = b.fs.MkdirAll(rel, 0755)
	} else {
		err = b.fs.Mkdir(rel, 0755)
	}
	return b.fsError("mkdir", rel, err)
}

// ReadFile returns the contents of a file.
func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	rel, err := b.resolve("read", path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(b.fs, rel)
	if err != nil {
		return nil, b.fsError("read", rel, err)
	}
	return data, nil
}

// WriteFile replaces the contents of a file.
func (b *Backend) WriteFile(ctx context.Context, path string, data []byte) error {
	rel, err := b.resolve("write", path)
	if err != nil {
		return err
	}
	return b.fsError("write", rel, afero.WriteFile(b.fs, rel, data, 0644))
}

// Remove deletes a file, or a whole tree when recursive is set.
func (b *Backend) Remove(ctx context.Context, path string, recursive bool) error {
	rel, err := b.resolve("remove", path)
	if err != nil {
		return err
	}
	if rel == "." {
		return errors.NewBackendError(errors.KindPermissionDenied, "remove", nil).
			WithPath(path).
			WithBackend(string(backend.KindLocal)).
			WithMessage("refusing to remove the working directory")
	}
	if _, err := b.fs.Stat(rel); err != nil {
		return b.fsError("remove", rel, err)
	}
	if recursive {
		return b.fsError("remove", rel, b.fs.RemoveAll(rel))
	}
	return b.fsError("remove", rel, b.fs.Remove(rel))
}

// ReadDir lists the children of a directory sorted by name.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	rel, err := b.resolve("readdir", path)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(b.fs, rel)
	if err != nil {
		return nil, b.fsError("readdir", rel, err)
	}

	entries := make([]backend.DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, backend.DirEntry{Name: info.Name(), Type: fileType(info.Mode())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat describes a path.
func (b *Backend) Stat(ctx context.Context, path string) (backend.FileInfo, error) {
	rel, err := b.resolve("stat", path)
	if err != nil {
		return backend.FileInfo{}, err
	}
	info, err := b.fs.Stat(rel)
	if err != nil {
		return backend.FileInfo{}, b.fsError("stat", rel, err)
	}
	name := info.Name()
	if rel == "." {
		name = filepath.Base(b.root)
	}
	return backend.FileInfo{
		Name:    name,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		Type:    fileType(info.Mode()),
	}, nil
}

// Symlink is not supported.
func (b *Backend) Symlink(ctx context.Context, target, link string) error {
	return backend.NotSupported(backend.KindLocal, "symlink", link)
}

// Readlink is not supported.
func (b *Backend) Readlink(ctx context.Context, path string) (string, error) {
	return "", backend.NotSupported(backend.KindLocal, "readlink", path)
}

// Close stops every watcher and terminates every running process.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	watchers := make([]*watcher, 0, len(b.watchers))
	for w := range b.watchers {
		watchers = append(watchers, w)
	}
	procs := make([]*process, 0, len(b.procs))
	for _, p := range b.procs {
		procs = append(procs, p)
	}
	b.mu.Unlock()

	for _, w := range watchers {
		_ = w.Close()
	}
	for _, p := range procs {
		if err := p.terminate(context.Background()); err != nil {
			b.logger.Warn("failed to terminate process on close", "process_id", p.id, "error", err)
		}
	}
	return nil
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) closedError(op string) error {
	return errors.NewBackendError(errors.KindUnknown, op, errors.ErrClosed).
		WithBackend(string(backend.KindLocal)).
		WithRetryable(false)
}

func fileType(mode fs.FileMode) backend.FileType {
	switch {
	case mode.IsDir():
		return backend.TypeDir
	case mode.IsRegular():
		return backend.TypeFile
	default:
		return backend.TypeOther
	}
}

// fsError classifies a host file system error. A nil err stays nil.
func (b *Backend) fsError(op, rel string, err error) error {
	if err == nil {
		return nil
	}

	kind := errors.KindUnknown
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = errors.KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = errors.KindPermissionDenied
	}

	be := errors.NewBackendError(kind, op, err).
		WithPath(rel).
		WithBackend(string(backend.KindLocal))

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EEXIST:
			be.Code = "EEXIST"
		case syscall.ENOTDIR:
			be.Code = "ENOTDIR"
		case syscall.EISDIR:
			be.Code = "EISDIR"
		case syscall.ENOTEMPTY:
			be.Code = "ENOTEMPTY"
		}
	}
	if kind == errors.KindUnknown && errors.Is(err, fs.ErrExist) {
		be.Code = "EEXIST"
	}
	return be
}
