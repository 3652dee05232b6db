package fsmount

import (
	"fmt"
	"io/fs"
	"syscall"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
)

// StatError is a POSIX-style failure as callers expecting node semantics
// see it: a code such as "ENOENT", the failing call, the path and a
// negative errno.
type StatError struct {
	Code    string
	Syscall string
	Path    string
	Errno   int
	Err     error
}

// Error formats the error like "ENOENT: no such file or directory, stat 'a.txt'".
func (e *StatError) Error() string {
	return fmt.Sprintf("%s: %s, %s '%s'", e.Code, describe(e.Code), e.Syscall, e.Path)
}

// Unwrap returns the backend error.
func (e *StatError) Unwrap() error { return e.Err }

// Is maps codes onto the io/fs sentinels so errors.Is(err, fs.ErrNotExist)
// holds for an ENOENT.
func (e *StatError) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Code == "ENOENT"
	case fs.ErrExist:
		return e.Code == "EEXIST"
	case fs.ErrPermission:
		return e.Code == "EACCES" || e.Code == "EPERM"
	}
	return false
}

var errnos = map[string]syscall.Errno{
	"ENOENT":       syscall.ENOENT,
	"EEXIST":       syscall.EEXIST,
	"ENOTDIR":      syscall.ENOTDIR,
	"EISDIR":       syscall.EISDIR,
	"ENOTEMPTY":    syscall.ENOTEMPTY,
	"EACCES":       syscall.EACCES,
	"EPERM":        syscall.EPERM,
	"ENOTSUP":      syscall.ENOTSUP,
	"ETIMEDOUT":    syscall.ETIMEDOUT,
	"ECONNREFUSED": syscall.ECONNREFUSED,
	"EIO":          syscall.EIO,
}

func describe(code string) string {
	if errno, ok := errnos[code]; ok {
		return errno.Error()
	}
	return "unknown error"
}

// newStatError builds a StatError for code directly.
func newStatError(code, syscallName, path string, cause error) *StatError {
	errno := 0
	if e, ok := errnos[code]; ok {
		errno = -int(e)
	}
	return &StatError{Code: code, Syscall: syscallName, Path: path, Errno: errno, Err: cause}
}

// statError converts a backend error. A nil err stays nil.
func statError(syscallName, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatError
	if errors.As(err, &se) {
		return se
	}
	return newStatError(errors.CodeOf(err), syscallName, path, err)
}

// Stats describes a path.
type Stats struct {
	backend.FileInfo
}

// IsFile reports whether the path is a regular file.
func (s *Stats) IsFile() bool { return s.Type == backend.TypeFile }

// IsDirectory reports whether the path is a directory.
func (s *Stats) IsDirectory() bool { return s.Type == backend.TypeDir }

// IsSymbolicLink is always false; no backend exposes links.
func (s *Stats) IsSymbolicLink() bool { return false }

// MtimeMs returns the modification time in milliseconds since the epoch.
func (s *Stats) MtimeMs() int64 { return s.ModTime.UnixMilli() }
