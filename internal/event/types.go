package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "artifact.opened", "process.exited")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeArtifactOpened  = "artifact.opened"
	TypeArtifactClosed  = "artifact.closed"
	TypeActionPreview   = "action.preview"
	TypeActionCompleted = "action.completed"
	TypeActionFailed    = "action.failed"
	TypeArtifactHalted  = "artifact.halted"
	TypeProcessStarted  = "process.started"
	TypeProcessOutput   = "process.output"
	TypeProcessExited   = "process.exited"
	TypeAlertRaised     = "alert.raised"
	TypeFileChanged     = "file.changed"
	TypeBackendReady    = "backend.ready"
	TypeInputDropped    = "process.input_dropped"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Artifact Events
// -----------------------------------------------------------------------------

// ArtifactOpenedEvent is emitted when the dispatcher starts tracking an artifact.
type ArtifactOpenedEvent struct {
	baseEvent
	StreamID   string
	ArtifactID string
	Title      string
}

// NewArtifactOpenedEvent creates an ArtifactOpenedEvent.
func NewArtifactOpenedEvent(streamID, artifactID, title string) ArtifactOpenedEvent {
	return ArtifactOpenedEvent{
		baseEvent:  newBaseEvent(TypeArtifactOpened),
		StreamID:   streamID,
		ArtifactID: artifactID,
		Title:      title,
	}
}

// ArtifactClosedEvent is emitted when an artifact's closing tag is seen.
type ArtifactClosedEvent struct {
	baseEvent
	StreamID   string
	ArtifactID string
}

// NewArtifactClosedEvent creates an ArtifactClosedEvent.
func NewArtifactClosedEvent(streamID, artifactID string) ArtifactClosedEvent {
	return ArtifactClosedEvent{
		baseEvent:  newBaseEvent(TypeArtifactClosed),
		StreamID:   streamID,
		ArtifactID: artifactID,
	}
}

// ArtifactHaltedEvent is emitted when a failed action stops an artifact's queue.
type ArtifactHaltedEvent struct {
	baseEvent
	ArtifactID string
	ActionID   string // the action that failed
	Skipped    int    // actions that will never run
}

// NewArtifactHaltedEvent creates an ArtifactHaltedEvent.
func NewArtifactHaltedEvent(artifactID, actionID string, skipped int) ArtifactHaltedEvent {
	return ArtifactHaltedEvent{
		baseEvent:  newBaseEvent(TypeArtifactHalted),
		ArtifactID: artifactID,
		ActionID:   actionID,
		Skipped:    skipped,
	}
}

// -----------------------------------------------------------------------------
// Action Events
// -----------------------------------------------------------------------------

// ActionPreviewEvent carries a partial body delta of a file action for live
// preview. Previews are never written to the backend.
type ActionPreviewEvent struct {
	baseEvent
	ArtifactID string
	ActionID   string
	FilePath   string
	Delta      string
}

// NewActionPreviewEvent creates an ActionPreviewEvent.
func NewActionPreviewEvent(artifactID, actionID, filePath, delta string) ActionPreviewEvent {
	return ActionPreviewEvent{
		baseEvent:  newBaseEvent(TypeActionPreview),
		ArtifactID: artifactID,
		ActionID:   actionID,
		FilePath:   filePath,
		Delta:      delta,
	}
}

// ActionCompletedEvent is emitted when an action succeeds: a file was
// written, a shell command exited zero, or a process was started.
type ActionCompletedEvent struct {
	baseEvent
	ArtifactID string
	ActionID   string
	ActionType string
	FilePath   string        // file actions only
	Command    string        // shell and start actions
	ProcessID  string        // start actions only
	ExitCode   int           // shell actions only
	Output     string        // shell actions only
	Duration   time.Duration // wall time spent executing
}

// NewActionCompletedEvent creates an ActionCompletedEvent.
func NewActionCompletedEvent(artifactID, actionID, actionType string) ActionCompletedEvent {
	return ActionCompletedEvent{
		baseEvent:  newBaseEvent(TypeActionCompleted),
		ArtifactID: artifactID,
		ActionID:   actionID,
		ActionType: actionType,
	}
}

// ActionFailedEvent is emitted when an action's execution returns an error.
type ActionFailedEvent struct {
	baseEvent
	ArtifactID string
	ActionID   string
	ActionType string
	Err        error
}

// NewActionFailedEvent creates an ActionFailedEvent.
func NewActionFailedEvent(artifactID, actionID, actionType string, err error) ActionFailedEvent {
	return ActionFailedEvent{
		baseEvent:  newBaseEvent(TypeActionFailed),
		ArtifactID: artifactID,
		ActionID:   actionID,
		ActionType: actionType,
		Err:        err,
	}
}

// -----------------------------------------------------------------------------
// Process Events
// -----------------------------------------------------------------------------

// ProcessStartedEvent is emitted when the process manager spawns a process.
type ProcessStartedEvent struct {
	baseEvent
	ProcessID string
	Command   string
}

// NewProcessStartedEvent creates a ProcessStartedEvent.
func NewProcessStartedEvent(processID, command string) ProcessStartedEvent {
	return ProcessStartedEvent{
		baseEvent: newBaseEvent(TypeProcessStarted),
		ProcessID: processID,
		Command:   command,
	}
}

// ProcessOutputEvent carries a chunk of a long-lived process's output.
type ProcessOutputEvent struct {
	baseEvent
	ProcessID string
	Data      string
}

// NewProcessOutputEvent creates a ProcessOutputEvent.
func NewProcessOutputEvent(processID, data string) ProcessOutputEvent {
	return ProcessOutputEvent{
		baseEvent: newBaseEvent(TypeProcessOutput),
		ProcessID: processID,
		Data:      data,
	}
}

// ProcessExitedEvent is emitted once a process reaches a terminal status.
type ProcessExitedEvent struct {
	baseEvent
	ProcessID string
	Status    string
	ExitCode  int
}

// NewProcessExitedEvent creates a ProcessExitedEvent.
func NewProcessExitedEvent(processID, status string, exitCode int) ProcessExitedEvent {
	return ProcessExitedEvent{
		baseEvent: newBaseEvent(TypeProcessExited),
		ProcessID: processID,
		Status:    status,
		ExitCode:  exitCode,
	}
}

// InputDroppedEvent is emitted when input to a process could not be delivered.
type InputDroppedEvent struct {
	baseEvent
	ProcessID string
	Bytes     int
	Err       error
}

// NewInputDroppedEvent creates an InputDroppedEvent.
func NewInputDroppedEvent(processID string, n int, err error) InputDroppedEvent {
	return InputDroppedEvent{
		baseEvent: newBaseEvent(TypeInputDropped),
		ProcessID: processID,
		Bytes:     n,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Backend Events
// -----------------------------------------------------------------------------

// FileChangedEvent relays a backend file watch notification.
type FileChangedEvent struct {
	baseEvent
	ChangeType string
	Path       string
}

// NewFileChangedEvent creates a FileChangedEvent.
func NewFileChangedEvent(changeType, path string) FileChangedEvent {
	return FileChangedEvent{
		baseEvent:  newBaseEvent(TypeFileChanged),
		ChangeType: changeType,
		Path:       path,
	}
}

// BackendReadyEvent is emitted once the sandbox holder has booted a backend.
type BackendReadyEvent struct {
	baseEvent
	Backend string
	WorkDir string
}

// NewBackendReadyEvent creates a BackendReadyEvent.
func NewBackendReadyEvent(backend, workDir string) BackendReadyEvent {
	return BackendReadyEvent{
		baseEvent: newBaseEvent(TypeBackendReady),
		Backend:   backend,
		WorkDir:   workDir,
	}
}

// -----------------------------------------------------------------------------
// Alert Events
// -----------------------------------------------------------------------------

// AlertRaisedEvent carries a user-facing alert. The alert package owns the
// payload shape; the fields are duplicated here to keep this package a leaf.
type AlertRaisedEvent struct {
	baseEvent
	AlertType   string
	Title       string
	Description string
	Content     string
	Source      string
}

// NewAlertRaisedEvent creates an AlertRaisedEvent.
func NewAlertRaisedEvent(alertType, title, description, content, source string) AlertRaisedEvent {
	return AlertRaisedEvent{
		baseEvent:   newBaseEvent(TypeAlertRaised),
		AlertType:   alertType,
		Title:       title,
		Description: description,
		Content:     content,
		Source:      source,
	}
}
