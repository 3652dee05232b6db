package testutil

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// FakeBackend is a scriptable in-memory backend. Files live in an afero
// memory file system; spawned processes produce output and exit only when
// the test tells them to.
type FakeBackend struct {
	// ExecFunc answers Exec. When nil, Exec succeeds with empty output.
	ExecFunc func(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error)
	// SpawnErr, when set, fails every Spawn.
	SpawnErr error
	// InputErr, when set, fails every SendInput.
	InputErr error
	// InputFunc, when set, runs before SendInput records the input. A
	// non-nil error fails the call.
	InputFunc func(ctx context.Context, id, input string) error

	fs afero.Fs

	mu        sync.Mutex
	procs     map[string]*FakeProcess
	order     []string
	execs     []backend.ExecRequest
	writeErrs map[string]error
	watchers  map[int]func(backend.FileChangeEvent)
	nextWatch int
	closed    bool
}

var _ backend.Backend = (*FakeBackend)(nil)

// NewFakeBackend creates an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		fs:        afero.NewMemMapFs(),
		procs:     make(map[string]*FakeProcess),
		writeErrs: make(map[string]error),
		watchers:  make(map[int]func(backend.FileChangeEvent)),
	}
}

// FakeProcess is a process spawned on a FakeBackend.
type FakeProcess struct {
	id  string
	req backend.SpawnRequest
	out *backend.Stream

	mu     sync.Mutex
	status backend.ProcessStatus
	code   int
	inputs []string
	done   chan struct{}
}

func (p *FakeProcess) ID() string        { return p.id }
func (p *FakeProcess) Output() io.Reader { return p.out }

// Request returns the spawn request that created the process.
func (p *FakeProcess) Request() backend.SpawnRequest { return p.req }

// Wait blocks until Exit or Terminate.
func (p *FakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Emit appends output.
func (p *FakeProcess) Emit(s string) {
	_, _ = p.out.WriteString(s)
}

// Exit ends the process with code.
func (p *FakeProcess) Exit(code int) {
	status := backend.StatusCompleted
	if code != 0 {
		status = backend.StatusErrored
	}
	p.end(status, code)
}

func (p *FakeProcess) end(status backend.ProcessStatus, code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.IsTerminal() {
		return
	}
	p.status = status
	p.code = code
	_ = p.out.Close()
	close(p.done)
}

// Inputs returns every input sent to the process.
func (p *FakeProcess) Inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.inputs...)
}

func (f *FakeBackend) Kind() backend.Kind { return backend.KindLocal }
func (f *FakeBackend) WorkDir() string    { return "/" }

func (f *FakeBackend) resolve(op, p string) (string, error) {
	return backend.Resolve(backend.KindLocal, "/", op, p)
}

// key is the memory file system name of a workdir-relative path.
func key(rel string) string {
	return pathutil.Join("/", rel)
}

func (f *FakeBackend) fsError(op, rel string, err error) error {
	if err == nil {
		return nil
	}
	kind := errors.KindUnknown
	if errors.Is(err, fs.ErrNotExist) {
		kind = errors.KindNotFound
	}
	return errors.NewBackendError(kind, op, err).WithPath(rel).WithRetryable(false)
}

// FailWrite makes writes to path fail with err.
func (f *FakeBackend) FailWrite(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErrs[path] = err
}

// File returns the content of path and whether it exists.
func (f *FakeBackend) File(path string) (string, bool) {
	data, err := afero.ReadFile(f.fs, key(pathutil.Clean(path)))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Execs returns every Exec request in order.
func (f *FakeBackend) Execs() []backend.ExecRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.ExecRequest(nil), f.execs...)
}

// Processes returns spawned processes in spawn order.
func (f *FakeBackend) Processes() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeProcess, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.procs[id])
	}
	return out
}

// Closed reports whether Close was called.
func (f *FakeBackend) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Trigger delivers ev to every active watcher.
func (f *FakeBackend) Trigger(ev backend.FileChangeEvent) {
	f.mu.Lock()
	fns := make([]func(backend.FileChangeEvent), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *FakeBackend) Mkdir(ctx context.Context, path string, recursive bool) error {
	rel, err := f.resolve("mkdir", path)
	if err != nil {
		return err
	}
	if recursive {
		return f.fsError("mkdir", rel, f.fs.MkdirAll(key(rel), 0755))
	}
	return f.fsError("mkdir", rel, f.fs.Mkdir(key(rel), 0755))
}

func (f *FakeBackend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	rel, err := f.resolve("read", path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, key(rel))
	return data, f.fsError("read", rel, err)
}

func (f *FakeBackend) WriteFile(ctx context.Context, path string, data []byte) error {
	rel, err := f.resolve("write", path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	werr := f.writeErrs[rel]
	f.mu.Unlock()
	if werr != nil {
		return werr
	}
	return f.fsError("write", rel, afero.WriteFile(f.fs, key(rel), data, 0644))
}

func (f *FakeBackend) Remove(ctx context.Context, path string, recursive bool) error {
	rel, err := f.resolve("remove", path)
	if err != nil {
		return err
	}
	if _, err := f.fs.Stat(key(rel)); err != nil {
		return f.fsError("remove", rel, err)
	}
	if recursive {
		return f.fsError("remove", rel, f.fs.RemoveAll(key(rel)))
	}
	return f.fsError("remove", rel, f.fs.Remove(key(rel)))
}

func (f *FakeBackend) ReadDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	rel, err := f.resolve("readdir", path)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(f.fs, key(rel))
	if err != nil {
		return nil, f.fsError("readdir", rel, err)
	}
	entries := make([]backend.DirEntry, 0, len(infos))
	for _, info := range infos {
		t := backend.TypeFile
		if info.IsDir() {
			t = backend.TypeDir
		}
		entries = append(entries, backend.DirEntry{Name: info.Name(), Type: t})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *FakeBackend) Stat(ctx context.Context, path string) (backend.FileInfo, error) {
	rel, err := f.resolve("stat", path)
	if err != nil {
		return backend.FileInfo{}, err
	}
	info, err := f.fs.Stat(key(rel))
	if err != nil {
		return backend.FileInfo{}, f.fsError("stat", rel, err)
	}
	t := backend.TypeFile
	if info.IsDir() {
		t = backend.TypeDir
	}
	return backend.FileInfo{Name: info.Name(), Size: info.Size(), Mode: info.Mode(), ModTime: info.ModTime(), Type: t}, nil
}

type fakeSubscription struct {
	f  *FakeBackend
	id int
}

func (s fakeSubscription) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.watchers, s.id)
	return nil
}

// Watch registers fn for events delivered with Trigger.
func (f *FakeBackend) Watch(ctx context.Context, path string, opts backend.WatchOptions, fn func(backend.FileChangeEvent)) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextWatch++
	f.watchers[f.nextWatch] = fn
	return fakeSubscription{f: f, id: f.nextWatch}, nil
}

func (f *FakeBackend) Spawn(ctx context.Context, req backend.SpawnRequest) (backend.RawProcess, error) {
	if f.SpawnErr != nil {
		return nil, f.SpawnErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("fake-%d", len(f.order)+1)
	p := &FakeProcess{
		id:     id,
		req:    req,
		out:    backend.NewStream(),
		status: backend.StatusRunning,
		done:   make(chan struct{}),
	}
	f.procs[id] = p
	f.order = append(f.order, id)
	return p, nil
}

func (f *FakeBackend) Exec(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, req)
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn == nil {
		return backend.ExecResult{}, nil
	}
	return fn(ctx, req)
}

func (f *FakeBackend) lookup(id string) (*FakeProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[id]
	if !ok {
		return nil, errors.NewBackendError(errors.KindNotFound, "process", nil).WithPath(id)
	}
	return p, nil
}

func (f *FakeBackend) Terminate(ctx context.Context, id string) error {
	p, err := f.lookup(id)
	if err != nil {
		return err
	}
	p.end(backend.StatusTerminated, -1)
	return nil
}

func (f *FakeBackend) SendInput(ctx context.Context, id string, input string) error {
	if f.InputErr != nil {
		return f.InputErr
	}
	if f.InputFunc != nil {
		if err := f.InputFunc(ctx, id, input); err != nil {
			return err
		}
	}
	p, err := f.lookup(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, input)
	return nil
}

func (f *FakeBackend) Status(ctx context.Context, id string) (backend.ProcessInfo, error) {
	p, err := f.lookup(id)
	if err != nil {
		return backend.ProcessInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return backend.ProcessInfo{ID: id, Status: p.status, ExitCode: p.code}, nil
}

func (f *FakeBackend) Symlink(ctx context.Context, target, link string) error {
	return backend.NotSupported(backend.KindLocal, "symlink", link)
}

func (f *FakeBackend) Readlink(ctx context.Context, path string) (string, error) {
	return "", backend.NotSupported(backend.KindLocal, "readlink", path)
}

// Close terminates every process.
func (f *FakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	procs := make([]*FakeProcess, 0, len(f.procs))
	for _, p := range f.procs {
		procs = append(procs, p)
	}
	f.mu.Unlock()
	for _, p := range procs {
		p.end(backend.StatusTerminated, -1)
	}
	return nil
}
