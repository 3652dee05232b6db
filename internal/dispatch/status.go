package dispatch

import (
	"time"

	"github.com/Iron-Ham/boltkit/internal/parser"
)

// ActionStatus is the execution state of one action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionRunning  ActionStatus = "running"
	ActionComplete ActionStatus = "complete"
	ActionFailed   ActionStatus = "failed"
	ActionAborted  ActionStatus = "aborted" // stream ended before the close tag
	ActionSkipped  ActionStatus = "skipped" // artifact halted before it ran
)

// Terminal reports whether the status can no longer change.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionComplete, ActionFailed, ActionAborted, ActionSkipped:
		return true
	default:
		return false
	}
}

// ActionState is a snapshot of one action.
type ActionState struct {
	ID        string
	Type      parser.ActionType
	FilePath  string
	Status    ActionStatus
	ProcessID string // start actions that spawned
	Err       error
	Duration  time.Duration
}

// ArtifactState is a snapshot of one artifact and its actions in document
// order. Unterminated is set when the stream finished before the close tag.
type ArtifactState struct {
	ID           string
	Title        string
	StreamID     string
	Closed       bool
	Unterminated bool
	Halted       bool
	Actions      []ActionState
}

// Pending returns how many actions have not reached a terminal status.
func (a ArtifactState) Pending() int {
	n := 0
	for _, act := range a.Actions {
		if !act.Status.Terminal() {
			n++
		}
	}
	return n
}
