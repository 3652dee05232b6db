package fsmount

import (
	"context"
	"io"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/backend/local"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/testutil"
)

func newLocalMount(t *testing.T, files map[string]string) *Mount {
	t.Helper()
	b, err := local.New(local.Options{Root: testutil.SetupWorkDir(t, files)})
	if err != nil {
		t.Fatalf("local.New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return New(b, Options{})
}

func wantCode(t *testing.T, err error, code, syscallName string) {
	t.Helper()
	var se *StatError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v (%T), want *StatError", err, err)
	}
	if se.Code != code {
		t.Errorf("Code = %q, want %q", se.Code, code)
	}
	if se.Syscall != syscallName {
		t.Errorf("Syscall = %q, want %q", se.Syscall, syscallName)
	}
	if se.Errno >= 0 {
		t.Errorf("Errno = %d, want negative", se.Errno)
	}
}

func TestMount_ReadWrite(t *testing.T) {
	ctx := context.Background()
	m := newLocalMount(t, nil)

	if err := m.Mkdir(ctx, "src/lib", true); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := m.WriteString(ctx, "src/lib/a.ts", "export const a = 1\n"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	if err := m.WriteFile(ctx, "src/logo.bin", []byte{0, 1, 2, 255}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	text, err := m.ReadFileString(ctx, "src/lib/a.ts")
	if err != nil || text != "export const a = 1\n" {
		t.Errorf("ReadFileString() = %q, %v", text, err)
	}
	data, err := m.ReadFile(ctx, "src/logo.bin")
	if err != nil || string(data) != "\x00\x01\x02\xff" {
		t.Errorf("ReadFile() = %v, %v", data, err)
	}

	names, err := m.Readdir(ctx, "src")
	if err != nil {
		t.Fatalf("Readdir() error = %v", err)
	}
	if strings.Join(names, ",") != "lib,logo.bin" {
		t.Errorf("Readdir() = %v, want [lib logo.bin]", names)
	}

	st, err := m.Stat(ctx, "src/lib")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !st.IsDirectory() || st.IsFile() || st.IsSymbolicLink() {
		t.Errorf("Stat(src/lib) = %+v, want a directory", st)
	}
	st, err = m.Lstat(ctx, "src/logo.bin")
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if !st.IsFile() || st.Size != 4 || st.MtimeMs() == 0 {
		t.Errorf("Lstat(src/logo.bin) = %+v, want a 4 byte file", st)
	}
	if !m.Exists(ctx, "src/lib/a.ts") || m.Exists(ctx, "nope") {
		t.Error("Exists() mismatch")
	}
}

func TestMount_Errors(t *testing.T) {
	ctx := context.Background()
	m := newLocalMount(t, map[string]string{
		"dir/file.txt": "x",
		"top.txt":      "y",
	})

	_, err := m.Stat(ctx, "missing.txt")
	wantCode(t, err, "ENOENT", "stat")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("errors.Is(ENOENT, fs.ErrNotExist) = false")
	}
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("KindOf() = %v, want %v", errors.KindOf(err), errors.KindNotFound)
	}
	if err.Error() != "ENOENT: no such file or directory, stat 'missing.txt'" {
		t.Errorf("Error() = %q", err.Error())
	}

	_, err = m.ReadFile(ctx, "missing.txt")
	wantCode(t, err, "ENOENT", "open")

	err = m.Mkdir(ctx, "dir", false)
	wantCode(t, err, "EEXIST", "mkdir")
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("errors.Is(EEXIST, fs.ErrExist) = false")
	}

	wantCode(t, m.Mkdir(ctx, "a/b/c", false), "ENOENT", "mkdir")
	wantCode(t, m.Unlink(ctx, "dir"), "EISDIR", "unlink")
	wantCode(t, m.Rmdir(ctx, "top.txt", false), "ENOTDIR", "rmdir")
	wantCode(t, m.Rmdir(ctx, "dir", false), "ENOTEMPTY", "rmdir")
	wantCode(t, m.Symlink(ctx, "top.txt", "link"), "ENOTSUP", "symlink")
	_, err = m.Readlink(ctx, "top.txt")
	wantCode(t, err, "ENOTSUP", "readlink")

	_, err = m.Stat(ctx, "../outside")
	wantCode(t, err, "EACCES", "stat")
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("errors.Is(EACCES, fs.ErrPermission) = false")
	}
}

func TestMount_Remove(t *testing.T) {
	ctx := context.Background()
	m := newLocalMount(t, map[string]string{
		"dir/nested/file.txt": "x",
		"top.txt":             "y",
	})

	if err := m.Unlink(ctx, "top.txt"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if m.Exists(ctx, "top.txt") {
		t.Error("top.txt still exists after Unlink")
	}
	if err := m.Rmdir(ctx, "dir", true); err != nil {
		t.Fatalf("Rmdir(recursive) error = %v", err)
	}
	if m.Exists(ctx, "dir") {
		t.Error("dir still exists after Rmdir")
	}
	if err := m.Mkdir(ctx, "empty", false); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := m.Rmdir(ctx, "empty", false); err != nil {
		t.Errorf("Rmdir(empty) error = %v", err)
	}
}

func TestMount_FS(t *testing.T) {
	m := newLocalMount(t, map[string]string{
		"package.json":      "{}",
		"src/main.js":       "main",
		"src/util/str.js":   "str",
		"public/index.html": "<html>",
	})
	fsys := m.FS(context.Background())

	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir() error = %v", err)
	}
	want := "package.json,public/index.html,src/main.js,src/util/str.js"
	if got := strings.Join(files, ","); got != want {
		t.Errorf("WalkDir() files = %s, want %s", got, want)
	}

	data, err := fs.ReadFile(fsys, "src/util/str.js")
	if err != nil || string(data) != "str" {
		t.Errorf("fs.ReadFile() = %q, %v", data, err)
	}

	info, err := fs.Stat(fsys, "src/main.js")
	if err != nil {
		t.Fatalf("fs.Stat() error = %v", err)
	}
	if info.Name() != "main.js" || info.Size() != 4 || info.IsDir() {
		t.Errorf("fs.Stat() = %s size %d dir %v", info.Name(), info.Size(), info.IsDir())
	}

	f, err := fsys.Open("src/main.js")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil || string(body) != "main" {
		t.Errorf("Open().Read = %q, %v", body, err)
	}

	if _, err := fsys.Open("missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open(missing) error = %v, want fs.ErrNotExist", err)
	}
	if _, err := fsys.Open("/abs"); !errors.Is(err, fs.ErrInvalid) {
		t.Errorf("Open(/abs) error = %v, want fs.ErrInvalid", err)
	}
}

func TestDirFile_ReadDirPaging(t *testing.T) {
	m := newLocalMount(t, map[string]string{"a": "", "b": "", "c": ""})

	f, err := m.FS(context.Background()).Open(".")
	if err != nil {
		t.Fatalf("Open(.) error = %v", err)
	}
	dir, ok := f.(fs.ReadDirFile)
	if !ok {
		t.Fatalf("Open(.) = %T, want fs.ReadDirFile", f)
	}

	first, err := dir.ReadDir(2)
	if err != nil || len(first) != 2 {
		t.Fatalf("ReadDir(2) = %d entries, %v", len(first), err)
	}
	rest, err := dir.ReadDir(2)
	if err != nil || len(rest) != 1 || rest[0].Name() != "c" {
		t.Fatalf("ReadDir(2) second page = %v, %v", rest, err)
	}
	if _, err := dir.ReadDir(2); err != io.EOF {
		t.Errorf("ReadDir(2) at end error = %v, want io.EOF", err)
	}
}

func TestCompatType(t *testing.T) {
	tests := []struct {
		in   backend.ChangeType
		want string
	}{
		{backend.ChangeAdd, EventRename},
		{backend.ChangeAddDir, EventRename},
		{backend.ChangeUnlink, EventRename},
		{backend.ChangeUnlinkDir, EventRename},
		{backend.ChangeRename, EventRename},
		{backend.ChangeModify, EventChange},
	}
	for _, tt := range tests {
		if got := CompatType(tt.in); got != tt.want {
			t.Errorf("CompatType(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMount_Watch(t *testing.T) {
	fake := testutil.NewFakeBackend()
	bus := event.NewBus(nil)
	m := New(fake, Options{Bus: bus})

	var published []string
	bus.Subscribe(event.TypeFileChanged, func(e event.Event) {
		published = append(published, e.(event.FileChangedEvent).ChangeType)
	})

	var mu sync.Mutex
	var got []string
	sub, err := m.Watch(context.Background(), "src", backend.WatchOptions{}, func(eventType, filename string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, eventType+" "+filename)
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	fake.Trigger(backend.FileChangeEvent{Type: backend.ChangeAdd, Path: "src/new.ts"})
	fake.Trigger(backend.FileChangeEvent{Type: backend.ChangeModify, Path: "src/lib/a.ts"})
	fake.Trigger(backend.FileChangeEvent{Type: backend.ChangeUnlinkDir, Path: "src/old"})
	_ = sub.Close()
	fake.Trigger(backend.FileChangeEvent{Type: backend.ChangeModify, Path: "src/late.ts"})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"rename new.ts", "change lib/a.ts", "rename old"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("events = %q, want %q", got, want)
	}
	if strings.Join(published, ",") != "add,change,unlinkDir" {
		t.Errorf("published = %v, want [add change unlinkDir]", published)
	}
}
