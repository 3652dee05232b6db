package backend

import (
	"io"
	"sync"
)

// Stream is an unbounded in-memory pipe. Writes never block; reads block
// until data is available or the stream is closed. Backends use it as the
// output sink of spawned processes so an unread stream never stalls the
// process behind it.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	err    error
}

// NewStream creates an open, empty Stream.
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends p. Writing to a closed stream returns io.ErrClosedPipe.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.buf = append(s.buf, p...)
	s.cond.Broadcast()
	return len(p), nil
}

// WriteString appends str.
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Read drains buffered data, blocking while the stream is open and empty.
// After Close, remaining data is returned first, then io.EOF (or the error
// passed to CloseWithError).
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close marks the end of the stream. It is safe to call more than once.
func (s *Stream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError closes the stream so readers see err after the buffered
// data. A nil err means io.EOF.
func (s *Stream) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.err = err
	s.cond.Broadcast()
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
