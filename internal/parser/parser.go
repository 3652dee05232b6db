// Package parser extracts artifact and action instructions from a model's
// streamed output.
//
// A Parser keeps one resumable state machine per stream id: the unconsumed
// tail of the stream, a cursor counting consumed bytes, and the open
// artifact and action. Feed only ever scans forward from the cursor. Input
// that may be the start of a tag is held until enough of it has arrived to
// decide, so the event sequence does not depend on how the stream is split
// into chunks (modulo Coalesce for text and body deltas).
//
// The protocol:
//
//	<boltArtifact id="app" title="Todo app">
//	  <boltAction type="file" filePath="src/main.js">console.log(1)</boltAction>
//	  <boltAction type="shell">npm install</boltAction>
//	  <boltAction type="start">npm run dev</boltAction>
//	</boltArtifact>
package parser

import (
	"strconv"
	"strings"
	"sync"

	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

// Default tag names and limits.
const (
	DefaultArtifactTag = "boltArtifact"
	DefaultActionTag   = "boltAction"

	// DefaultMaxTagLength caps an opening tag. Longer tags are malformed.
	DefaultMaxTagLength = 4096
)

// Options configures a Parser.
type Options struct {
	ArtifactTag  string
	ActionTag    string
	MaxTagLength int
	Logger       *logging.Logger
}

// Parser is safe for concurrent use. Streams are independent; calls for the
// same stream are serialized.
type Parser struct {
	artifactOpen  string
	artifactClose string
	actionOpen    string
	actionClose   string
	maxTag        int
	logger        *logging.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// New creates a Parser. Zero options select the defaults.
func New(opts Options) *Parser {
	if opts.ArtifactTag == "" {
		opts.ArtifactTag = DefaultArtifactTag
	}
	if opts.ActionTag == "" {
		opts.ActionTag = DefaultActionTag
	}
	if opts.MaxTagLength <= 0 {
		opts.MaxTagLength = DefaultMaxTagLength
	}
	return &Parser{
		artifactOpen:  "<" + opts.ArtifactTag,
		artifactClose: "</" + opts.ArtifactTag + ">",
		actionOpen:    "<" + opts.ActionTag,
		actionClose:   "</" + opts.ActionTag + ">",
		maxTag:        opts.MaxTagLength,
		logger:        logging.OrNop(opts.Logger),
		streams:       make(map[string]*stream),
	}
}

// mode is where the state machine is in the document.
type mode int

const (
	// modeText is outside any artifact.
	modeText mode = iota
	// modeArtifact is inside an artifact, between actions.
	modeArtifact
	// modeAction is inside an action body.
	modeAction
	// modeSkipArtifact discards a malformed artifact up to its close tag.
	modeSkipArtifact
	// modeSkipAction discards a malformed action up to its close tag.
	modeSkipAction
)

type stream struct {
	mu sync.Mutex

	id     string
	buf    string
	cursor int
	mode   mode

	artifact Artifact
	action   Action
	body     strings.Builder
	actions  int

	events []Event
}

func (p *Parser) stream(id string) *stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[id]
	if !ok {
		s = &stream{id: id}
		p.streams[id] = s
	}
	return s
}

// Feed appends chunk to the stream and returns the events it completes.
func (p *Parser) Feed(streamID, chunk string) []Event {
	s := p.stream(streamID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf += chunk
	p.run(s)
	return s.flush()
}

// Finish ends the stream. Held-back prose is returned as text. If an
// artifact, action or tag is still open, the open action and artifact are
// reported unterminated and a ParseError names the innermost element. The stream's state is
// cleared either way.
func (p *Parser) Finish(streamID string) ([]Event, error) {
	s := p.stream(streamID)
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		p.Reset(streamID)
	}()

	p.run(s)

	var err error
	switch s.mode {
	case modeText:
		if s.buf != "" {
			if matchOpen(s.buf, p.artifactOpen) == matchYes {
				err = p.unterminated(s, p.artifactOpen[1:], "tag")
			} else {
				s.emitText(s.buf)
			}
		}
	case modeSkipArtifact:
		err = p.unterminated(s, p.artifactOpen[1:], "element")
	case modeArtifact, modeSkipAction:
		s.emit(Event{Kind: EventArtifactUnterminated, Artifact: s.artifact})
		err = p.unterminated(s, p.artifactOpen[1:]+" "+s.artifact.ID, "element")
	case modeAction:
		s.emitDelta(s.buf)
		s.emit(Event{Kind: EventActionUnterminated, Artifact: s.artifact, Action: s.action})
		s.emit(Event{Kind: EventArtifactUnterminated, Artifact: s.artifact})
		err = p.unterminated(s, p.actionOpen[1:]+" "+s.action.ID, "element")
	}
	return s.flush(), err
}

func (p *Parser) unterminated(s *stream, element, what string) error {
	p.logger.WithStream(s.id).Warn("stream finished inside "+what, "element", element, "offset", s.cursor)
	return errors.NewParseError("unterminated "+element+" "+what).
		WithStream(s.id).
		WithElement(element).
		WithOffset(s.cursor)
}

// Reset forgets everything about a stream. Resetting an unknown or already
// reset stream is a no-op.
func (p *Parser) Reset(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.streams, streamID)
}

// Streams returns the number of streams with state.
func (p *Parser) Streams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (s *stream) emit(ev Event) {
	ev.StreamID = s.id
	ev.Offset = s.cursor
	s.events = append(s.events, ev)
}

func (s *stream) flush() []Event {
	out := s.events
	s.events = nil
	return out
}

// consume drops n bytes from the front of the buffer.
func (s *stream) consume(n int) {
	s.buf = s.buf[n:]
	s.cursor += n
}

func (s *stream) emitText(text string) {
	if text == "" {
		return
	}
	s.emit(Event{Kind: EventText, Text: text})
	s.consume(len(text))
}

func (s *stream) emitDelta(delta string) {
	if delta == "" {
		return
	}
	s.body.WriteString(delta)
	s.emit(Event{Kind: EventActionStream, Artifact: s.artifact, Action: s.action, Text: delta})
	s.consume(len(delta))
}

// run advances the state machine as far as the buffer allows.
func (p *Parser) run(s *stream) {
	for {
		var more bool
		switch s.mode {
		case modeText:
			more = p.scanText(s)
		case modeArtifact:
			more = p.scanArtifact(s)
		case modeAction:
			more = p.scanAction(s)
		case modeSkipArtifact:
			more = p.skip(s, modeText, p.artifactClose)
		case modeSkipAction:
			more = p.skip(s, modeArtifact, p.actionClose, p.artifactClose)
		}
		if !more || s.buf == "" {
			return
		}
	}
}

func (p *Parser) malformed(s *stream, raw, reason string) {
	err := errors.NewParseError(reason).WithStream(s.id).WithOffset(s.cursor)
	p.logger.WithStream(s.id).Debug("malformed tag", "reason", reason, "offset", s.cursor)
	s.emit(Event{Kind: EventMalformed, Artifact: s.artifact, Text: raw, Reason: reason, Err: err})
}

// scanText handles prose outside any artifact.
func (p *Parser) scanText(s *stream) bool {
	i := strings.IndexByte(s.buf, '<')
	if i < 0 {
		s.emitText(s.buf)
		return false
	}
	if i > 0 {
		s.emitText(s.buf[:i])
		return true
	}

	switch matchOpen(s.buf, p.artifactOpen) {
	case matchMore:
		return false
	case matchNone:
		s.emitText("<")
		return true
	}

	t, status := readTag(s.buf, len(p.artifactOpen), p.maxTag)
	switch status {
	case tagIncomplete:
		return false
	case tagTooLong:
		p.malformed(s, s.buf[:len(p.artifactOpen)], "artifact tag too long")
		s.emitText("<")
		return true
	}

	id := t.attrs["id"]
	if id == "" {
		p.malformed(s, t.raw, "artifact without id")
		s.consume(len(t.raw))
		if !t.selfClosing {
			s.mode = modeSkipArtifact
		}
		return true
	}

	s.artifact = Artifact{ID: id, Title: t.attrs["title"]}
	s.actions = 0
	s.emit(Event{Kind: EventArtifactOpen, Artifact: s.artifact})
	s.consume(len(t.raw))
	s.mode = modeArtifact
	if t.selfClosing {
		p.closeArtifact(s, 0)
	}
	return true
}

func (p *Parser) closeArtifact(s *stream, n int) {
	s.emit(Event{Kind: EventArtifactClose, Artifact: s.artifact})
	s.consume(n)
	s.artifact = Artifact{}
	s.mode = modeText
}

// scanArtifact handles the space between actions. Anything that is not an
// action or the artifact's close tag is dropped.
func (p *Parser) scanArtifact(s *stream) bool {
	i := strings.IndexByte(s.buf, '<')
	if i < 0 {
		s.consume(len(s.buf))
		return false
	}
	if i > 0 {
		s.consume(i)
		return true
	}

	if strings.HasPrefix(s.buf, p.artifactClose) {
		p.closeArtifact(s, len(p.artifactClose))
		return true
	}
	if len(s.buf) < len(p.artifactClose) && strings.HasPrefix(p.artifactClose, s.buf) {
		return false
	}

	switch matchOpen(s.buf, p.actionOpen) {
	case matchMore:
		return false
	case matchNone:
		s.consume(1)
		return true
	}

	t, status := readTag(s.buf, len(p.actionOpen), p.maxTag)
	switch status {
	case tagIncomplete:
		return false
	case tagTooLong:
		p.malformed(s, s.buf[:len(p.actionOpen)], "action tag too long")
		s.consume(1)
		return true
	}

	typ := ActionType(t.attrs["type"])
	reason := ""
	switch {
	case t.attrs["type"] == "":
		reason = "action without type"
	case !typ.Valid():
		reason = "unknown action type " + strconv.Quote(string(typ))
	case typ == ActionFile && t.attrs["filePath"] == "":
		reason = "file action without filePath"
	}
	if reason != "" {
		p.malformed(s, t.raw, reason)
		s.consume(len(t.raw))
		if !t.selfClosing {
			s.mode = modeSkipAction
		}
		return true
	}

	s.action = Action{
		ArtifactID: s.artifact.ID,
		ID:         s.artifact.ID + ":" + strconv.Itoa(s.actions),
		Index:      s.actions,
		Type:       typ,
		FilePath:   t.attrs["filePath"],
	}
	s.actions++
	s.body.Reset()
	s.emit(Event{Kind: EventActionOpen, Artifact: s.artifact, Action: s.action})
	s.consume(len(t.raw))
	s.mode = modeAction
	if t.selfClosing {
		p.closeAction(s, 0)
	}
	return true
}

func (p *Parser) closeAction(s *stream, n int) {
	a := s.action
	a.Content = s.body.String()
	if a.Type != ActionFile {
		a.Content = strings.TrimSpace(a.Content)
	}
	a.Final = true
	s.emit(Event{Kind: EventActionClose, Artifact: s.artifact, Action: a})
	s.consume(n)
	s.action = Action{}
	s.body.Reset()
	s.mode = modeArtifact
}

// scanAction streams body text up to the action's close tag. An artifact
// close tag inside the body closes the artifact and leaves the action
// unterminated.
func (p *Parser) scanAction(s *stream) bool {
	idx, which, hold := findClose(s.buf, p.actionClose, p.artifactClose)
	if idx < 0 {
		s.emitDelta(s.buf[:hold])
		return false
	}

	s.emitDelta(s.buf[:idx])
	if which == 0 {
		p.closeAction(s, len(p.actionClose))
		return true
	}

	s.emit(Event{Kind: EventActionUnterminated, Artifact: s.artifact, Action: s.action})
	s.action = Action{}
	s.body.Reset()
	p.closeArtifact(s, len(p.artifactClose))
	return true
}

// skip discards input up to the first of closes. Closing the skipped
// element moves to next; an artifact close while skipping an action also
// closes the artifact.
func (p *Parser) skip(s *stream, next mode, closes ...string) bool {
	idx, which, hold := findClose(s.buf, closes...)
	if idx < 0 {
		s.consume(hold)
		return false
	}
	s.consume(idx)
	if which == 1 {
		p.closeArtifact(s, len(p.artifactClose))
		return true
	}
	s.consume(len(closes[0]))
	s.mode = next
	return true
}
