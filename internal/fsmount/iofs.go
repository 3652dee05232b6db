package fsmount

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// FS returns an io/fs view of the mount. Every call made through it uses
// ctx.
func (m *Mount) FS(ctx context.Context) fs.FS {
	return &mountFS{ctx: ctx, m: m}
}

type mountFS struct {
	ctx context.Context
	m   *Mount
}

var (
	_ fs.ReadDirFS  = (*mountFS)(nil)
	_ fs.StatFS     = (*mountFS)(nil)
	_ fs.ReadFileFS = (*mountFS)(nil)
)

func (f *mountFS) pathError(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: statError(op, name, err)}
}

func (f *mountFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	info, err := f.m.b.Stat(f.ctx, name)
	if err != nil {
		return nil, f.pathError("open", name, err)
	}
	fi := fileInfo{info: info, name: pathBase(name, info.Name)}

	if info.IsDir() {
		entries, err := f.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &dirFile{info: fi, entries: entries}, nil
	}

	data, err := f.m.b.ReadFile(f.ctx, name)
	if err != nil {
		return nil, f.pathError("open", name, err)
	}
	return &file{info: fi, r: bytes.NewReader(data)}, nil
}

func (f *mountFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries, err := f.m.b.ReadDir(f.ctx, name)
	if err != nil {
		return nil, f.pathError("readdir", name, err)
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, &dirEntry{fs: f, dir: name, e: e})
	}
	slices.SortFunc(out, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

func (f *mountFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	info, err := f.m.b.Stat(f.ctx, name)
	if err != nil {
		return nil, f.pathError("stat", name, err)
	}
	return fileInfo{info: info, name: pathBase(name, info.Name)}, nil
}

func (f *mountFS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	data, err := f.m.b.ReadFile(f.ctx, name)
	if err != nil {
		return nil, f.pathError("readfile", name, err)
	}
	return data, nil
}

// pathBase prefers the backend's name for the root, which io/fs calls ".".
func pathBase(name, backendName string) string {
	if name == "." && backendName != "" {
		return backendName
	}
	return pathutil.Basename(name)
}

type fileInfo struct {
	info backend.FileInfo
	name string
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.info.Size }
func (fi fileInfo) ModTime() time.Time { return fi.info.ModTime }
func (fi fileInfo) IsDir() bool        { return fi.info.IsDir() }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() fs.FileMode {
	mode := fi.info.Mode
	if fi.info.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}

type dirEntry struct {
	fs  *mountFS
	dir string
	e   backend.DirEntry
}

func (d *dirEntry) Name() string { return d.e.Name }
func (d *dirEntry) IsDir() bool  { return d.e.IsDir() }

func (d *dirEntry) Type() fs.FileMode {
	switch d.e.Type {
	case backend.TypeDir:
		return fs.ModeDir
	case backend.TypeFile:
		return 0
	default:
		return fs.ModeIrregular
	}
}

func (d *dirEntry) Info() (fs.FileInfo, error) {
	name := d.e.Name
	if d.dir != "." {
		name = d.dir + "/" + name
	}
	return d.fs.Stat(name)
}

type file struct {
	info fileInfo
	r    *bytes.Reader
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *file) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *file) Close() error               { return nil }

type dirFile struct {
	info    fileInfo
	entries []fs.DirEntry
	offset  int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

// ReadDir follows fs.ReadDirFile: n <= 0 returns everything left, n > 0
// returns at most n entries and io.EOF once exhausted.
func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}
