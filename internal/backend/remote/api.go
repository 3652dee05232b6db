package remote

import (
	"strings"

	"github.com/Iron-Ham/boltkit/internal/backend"
)

// Wire types of the remote execution service.

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env,omitempty"`
	// Timeout is in milliseconds; zero leaves the limit to the service.
	Timeout int64 `json:"timeout,omitempty"`
}

// SpawnRequest is the body of POST /spawn.
type SpawnRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env,omitempty"`
}

// InputRequest is the body of POST /process/:id/input.
type InputRequest struct {
	Input string `json:"input"`
}

// ProcessResponse is returned by /execute, /spawn and GET /process/:id.
// Stdout and Stderr are cumulative.
type ProcessResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Code   *int   `json:"code,omitempty"`
}

// ErrorResponse is the body of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ExitCode returns the reported exit code, or -1 when none was reported.
func (r ProcessResponse) ExitCode() int {
	if r.Code == nil {
		return -1
	}
	return *r.Code
}

// ProcessStatus maps the service's status vocabulary onto the backend's.
func (r ProcessResponse) ProcessStatus() backend.ProcessStatus {
	switch strings.ToLower(r.Status) {
	case "pending", "queued", "":
		return backend.StatusPending
	case "running", "started":
		return backend.StatusRunning
	case "completed", "complete", "exited", "success", "succeeded":
		if r.Code != nil && *r.Code != 0 {
			return backend.StatusErrored
		}
		return backend.StatusCompleted
	case "errored", "error", "failed":
		return backend.StatusErrored
	case "terminated", "killed", "cancelled", "canceled":
		return backend.StatusTerminated
	default:
		return backend.StatusRunning
	}
}
