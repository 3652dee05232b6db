package parser

// EventKind identifies a parser event.
type EventKind string

const (
	// EventText is prose outside any artifact.
	EventText EventKind = "text"
	// EventArtifactOpen reports an opening artifact tag.
	EventArtifactOpen EventKind = "artifact.open"
	// EventArtifactClose reports a closing artifact tag.
	EventArtifactClose EventKind = "artifact.close"
	// EventActionOpen reports an opening action tag.
	EventActionOpen EventKind = "action.open"
	// EventActionStream carries a delta of action body for live preview.
	EventActionStream EventKind = "action.stream"
	// EventActionClose carries the final action with its full content.
	EventActionClose EventKind = "action.close"
	// EventActionUnterminated reports an action whose artifact closed, or
	// whose stream finished, before the action did. It must not be executed.
	EventActionUnterminated EventKind = "action.unterminated"
	// EventArtifactUnterminated reports an artifact still open when its
	// stream finished. It takes the place of the missing close.
	EventArtifactUnterminated EventKind = "artifact.unterminated"
	// EventMalformed reports a recognized but invalid opening tag. The
	// element it opens is skipped.
	EventMalformed EventKind = "malformed"
)

// ActionType is the kind of work an action asks for.
type ActionType string

const (
	ActionFile  ActionType = "file"
	ActionShell ActionType = "shell"
	ActionStart ActionType = "start"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionFile, ActionShell, ActionStart:
		return true
	}
	return false
}

// Artifact identifies a bundle of actions.
type Artifact struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Action is one instruction inside an artifact. Content is only set, and
// Final only true, on EventActionClose.
type Action struct {
	ArtifactID string     `json:"artifact_id"`
	ID         string     `json:"id"`
	Index      int        `json:"index"`
	Type       ActionType `json:"type"`
	FilePath   string     `json:"file_path,omitempty"`
	Content    string     `json:"content,omitempty"`
	Final      bool       `json:"final,omitempty"`
}

// Event is one parser output. Offset is the byte position in the stream
// where the event's source text starts, so it does not depend on how the
// stream was chunked.
type Event struct {
	Kind     EventKind `json:"kind"`
	StreamID string    `json:"stream_id"`
	Offset   int       `json:"offset"`
	Artifact Artifact  `json:"artifact,omitzero"`
	Action   Action    `json:"action,omitzero"`
	// Text is the prose of EventText, the delta of EventActionStream and
	// the raw tag of EventMalformed.
	Text string `json:"text,omitempty"`
	// Reason explains EventMalformed.
	Reason string `json:"reason,omitempty"`
	// Err is the *errors.ParseError behind EventMalformed.
	Err error `json:"-"`
}

// Coalesce merges adjacent text events, and adjacent stream deltas of the
// same action, into single events. Feeding a text in any chunking yields
// the same coalesced sequence.
func Coalesce(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if n := len(out); n > 0 && mergeable(out[n-1], ev) {
			out[n-1].Text += ev.Text
			continue
		}
		out = append(out, ev)
	}
	return out
}

func mergeable(prev, next Event) bool {
	if prev.Kind != next.Kind || prev.StreamID != next.StreamID {
		return false
	}
	switch prev.Kind {
	case EventText:
		return true
	case EventActionStream:
		return prev.Action.ID == next.Action.ID
	}
	return false
}
