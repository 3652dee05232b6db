package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// The service has no file endpoints, so file operations run POSIX shell
// snippets through /execute. Snippets report well-known failures with
// these exit codes.
const (
	exitNotFound = 44
	exitExists   = 45
	exitNotDir   = 46
	exitIsDir    = 47
	exitNotEmpty = 48
)

// shellQuote single-quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// script runs a file snippet in the workdir and classifies its failure.
func (b *Backend) script(ctx context.Context, op, rel, src string) (string, error) {
	res, err := b.execute(ctx, ExecuteRequest{Command: src, Cwd: b.workDir}, b.opts.QuickTimeout)
	if err != nil {
		return "", err
	}
	if res.ExitCode() == 0 {
		return res.Stdout, nil
	}

	kind := errors.KindUnknown
	code := ""
	switch res.ExitCode() {
	case exitNotFound:
		kind = errors.KindNotFound
	case exitExists:
		code = "EEXIST"
	case exitNotDir:
		code = "ENOTDIR"
	case exitIsDir:
		code = "EISDIR"
	case exitNotEmpty:
		code = "ENOTEMPTY"
	default:
		if strings.Contains(strings.ToLower(res.Stderr), "permission denied") {
			kind = errors.KindPermissionDenied
		}
	}

	be := errors.NewBackendError(kind, op, nil).
		WithPath(rel).
		WithBackend(string(backend.KindRemote)).
		WithRetryable(false)
	if code != "" {
		be.Code = code
	}
	if msg := strings.TrimSpace(res.Stderr); msg != "" && kind == errors.KindUnknown {
		be = be.WithMessage(msg)
	}
	return "", be
}

// Mkdir creates a directory.
func (b *Backend) Mkdir(ctx context.Context, path string, recursive bool) error {
	rel, err := b.resolve("mkdir", path)
	if err != nil {
		return err
	}
	q := shellQuote(rel)
	src := "mkdir -p " + q
	if !recursive {
		src = fmt.Sprintf(`if [ -e %[1]s ]; then exit %[2]d; fi; [ -d "$(dirname %[1]s)" ] || exit %[3]d; mkdir %[1]s`,
			q, exitExists, exitNotFound)
	}
	_, err = b.script(ctx, "mkdir", rel, src)
	return err
}

// ReadFile returns the contents of a file, transferred base64-encoded.
func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	rel, err := b.resolve("read", path)
	if err != nil {
		return nil, err
	}
	q := shellQuote(rel)
	out, err := b.script(ctx, "read", rel, fmt.Sprintf(`[ -e %[1]s ] || exit %[2]d; if [ -d %[1]s ]; then exit %[3]d; fi; base64 < %[1]s`,
		q, exitNotFound, exitIsDir))
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(stripSpace(out))
	if err != nil {
		return nil, errors.NewBackendError(errors.KindUnknown, "read", fmt.Errorf("decoding file content: %w", err)).
			WithPath(rel).
			WithBackend(string(backend.KindRemote)).
			WithRetryable(false)
	}
	return data, nil
}

// WriteFile replaces the contents of a file. The parent directory must exist.
func (b *Backend) WriteFile(ctx context.Context, path string, data []byte) error {
	rel, err := b.resolve("write", path)
	if err != nil {
		return err
	}
	q := shellQuote(rel)
	encoded := base64.StdEncoding.EncodeToString(data)
	_, err = b.script(ctx, "write", rel, fmt.Sprintf(`[ -d "$(dirname %[1]s)" ] || exit %[2]d; if [ -d %[1]s ]; then exit %[3]d; fi; printf '%%s' %[4]s | base64 -d > %[1]s`,
		q, exitNotFound, exitIsDir, shellQuote(encoded)))
	return err
}

// Remove deletes a file, an empty directory, or a tree when recursive is set.
func (b *Backend) Remove(ctx context.Context, path string, recursive bool) error {
	rel, err := b.resolve("remove", path)
	if err != nil {
		return err
	}
	if rel == "." {
		return errors.NewBackendError(errors.KindPermissionDenied, "remove", nil).
			WithPath(path).
			WithBackend(string(backend.KindRemote)).
			WithMessage("refusing to remove the working directory")
	}
	q := shellQuote(rel)
	src := fmt.Sprintf(`[ -e %[1]s ] || [ -L %[1]s ] || exit %[2]d; rm -rf %[1]s`, q, exitNotFound)
	if !recursive {
		src = fmt.Sprintf(`[ -e %[1]s ] || [ -L %[1]s ] || exit %[2]d; if [ -d %[1]s ]; then rmdir %[1]s 2>/dev/null || exit %[3]d; else rm -f %[1]s; fi`,
			q, exitNotFound, exitNotEmpty)
	}
	_, err = b.script(ctx, "remove", rel, src)
	return err
}

// ReadDir lists the children of a directory sorted by name.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	rel, err := b.resolve("readdir", path)
	if err != nil {
		return nil, err
	}
	q := shellQuote(rel)
	out, err := b.script(ctx, "readdir", rel, fmt.Sprintf(`[ -e %[1]s ] || exit %[2]d; [ -d %[1]s ] || exit %[3]d; cd %[1]s && for f in * .[!.]* ..?*; do [ -e "$f" ] || [ -L "$f" ] || continue; if [ -d "$f" ]; then echo "d $f"; elif [ -f "$f" ]; then echo "f $f"; else echo "o $f"; fi; done`,
		q, exitNotFound, exitNotDir))
	if err != nil {
		return nil, err
	}

	var entries []backend.DirEntry
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 || line[1] != ' ' {
			continue
		}
		entries = append(entries, backend.DirEntry{Name: line[2:], Type: typeFromTag(line[0])})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat describes a path. A missing path yields ENOENT.
func (b *Backend) Stat(ctx context.Context, path string) (backend.FileInfo, error) {
	rel, err := b.resolve("stat", path)
	if err != nil {
		return backend.FileInfo{}, err
	}
	q := shellQuote(rel)
	out, err := b.script(ctx, "stat", rel, fmt.Sprintf(`[ -e %[1]s ] || [ -L %[1]s ] || exit %[2]d; stat -c '%%F|%%s|%%Y|%%a' %[1]s`,
		q, exitNotFound))
	if err != nil {
		return backend.FileInfo{}, err
	}

	info, ok := parseStat(strings.TrimSpace(out))
	if !ok {
		return backend.FileInfo{}, errors.NewBackendError(errors.KindUnknown, "stat", fmt.Errorf("unexpected stat output %q", out)).
			WithPath(rel).
			WithBackend(string(backend.KindRemote)).
			WithRetryable(false)
	}
	info.Name = pathutil.Basename(b.abs(rel))
	return info, nil
}

func typeFromTag(tag byte) backend.FileType {
	switch tag {
	case 'd':
		return backend.TypeDir
	case 'f':
		return backend.TypeFile
	default:
		return backend.TypeOther
	}
}

// typeFromStat maps stat's %F description.
func typeFromStat(desc string) backend.FileType {
	switch {
	case desc == "directory":
		return backend.TypeDir
	case strings.Contains(desc, "regular"):
		return backend.TypeFile
	default:
		return backend.TypeOther
	}
}

// parseStat parses "type|size|mtime|mode" as printed by stat -c.
func parseStat(line string) (backend.FileInfo, bool) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return backend.FileInfo{}, false
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return backend.FileInfo{}, false
	}
	mtime, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return backend.FileInfo{}, false
	}
	perm, err := strconv.ParseUint(parts[3], 8, 32)
	if err != nil {
		return backend.FileInfo{}, false
	}

	t := typeFromStat(parts[0])
	mode := fs.FileMode(perm) & fs.ModePerm
	switch t {
	case backend.TypeDir:
		mode |= fs.ModeDir
	case backend.TypeOther:
		mode |= fs.ModeIrregular
	}
	return backend.FileInfo{
		Size:    size,
		Mode:    mode,
		ModTime: time.Unix(mtime, 0),
		Type:    t,
	}, true
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
