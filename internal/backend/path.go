package backend

import (
	"strings"

	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// Resolve maps p (relative to workDir, or absolute beneath it) to a clean
// workdir-relative path. "." denotes the workdir itself. Paths escaping the
// workdir fail with PermissionDenied.
func Resolve(kind Kind, workDir, op, p string) (string, error) {
	root := pathutil.Clean("/" + strings.TrimPrefix(workDir, "/"))
	abs, ok := pathutil.Within(root, p)
	if !ok {
		return "", errors.NewBackendError(errors.KindPermissionDenied, op, nil).
			WithPath(p).
			WithBackend(string(kind)).
			WithMessage("path escapes the working directory")
	}
	return pathutil.Relative(root, abs), nil
}
