package process

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
)

// Result is the final state of a process.
type Result struct {
	ID       string
	Status   backend.ProcessStatus
	ExitCode int
}

// Handle is the uniform view of a spawned process, identical for both
// backends.
type Handle struct {
	id      string
	command string
	started time.Time
	m       *Manager
	raw     backend.RawProcess

	out    *backend.Stream
	input  chan string
	pumped chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	status      backend.ProcessStatus
	exitCode    int
	terminating bool
}

// ID returns the backend process id.
func (h *Handle) ID() string { return h.id }

// Command returns the command the process was started with.
func (h *Handle) Command() string { return h.command }

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time { return h.started }

// Output returns the process output. The interactive-mode marker precedes
// the first byte the process writes, and the stream ends with io.EOF once
// the process has exited and its output has been drained.
func (h *Handle) Output() io.Reader { return h.out }

// Done is closed when the process reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Status returns the current status.
func (h *Handle) Status() backend.ProcessStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Wait blocks until the process exits.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Result{ID: h.id, Status: h.status, ExitCode: h.exitCode}
}

// WriteInput queues text for the process's stdin and never blocks.
// Delivery is ordered and asynchronous; input that fails, arrives after
// exit or finds the queue full is logged and dropped.
func (h *Handle) WriteInput(text string) {
	select {
	case <-h.done:
		h.drop(len(text), errors.NewProcessError("process has exited", errors.ErrClosed).WithProcessID(h.id))
		return
	default:
	}

	select {
	case h.input <- text:
	default:
		h.drop(len(text), errors.NewProcessError("input queue is full", nil).WithProcessID(h.id))
	}
}

func (h *Handle) drop(n int, err error) {
	h.m.logger.WithProcess(h.id).Warn("dropping process input", "bytes", n, "error", err)
	h.m.publishDropped(h.id, n, err)
}

// Terminate stops the process and waits for it to exit.
func (h *Handle) Terminate(ctx context.Context) error {
	return h.m.Terminate(ctx, h.id)
}

// pumpInput forwards queued input until the process exits.
func (h *Handle) pumpInput(ctx context.Context) {
	for {
		select {
		case <-h.done:
			return
		case text := <-h.input:
			if err := h.m.backend.SendInput(ctx, h.id, text); err != nil {
				h.drop(len(text), err)
			}
		}
	}
}

// pumpOutput copies backend output into the handle's stream.
func (h *Handle) pumpOutput() {
	defer close(h.pumped)

	marker := h.m.opts.InteractiveMarker
	buf := make([]byte, 32*1024)
	r := h.raw.Output()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if marker != "" {
				_, _ = h.out.WriteString(marker)
				marker = ""
			}
			chunk := string(buf[:n])
			_, _ = h.out.WriteString(chunk)
			h.m.publishOutput(h.id, chunk)
		}
		if err != nil {
			if err != io.EOF {
				h.m.logger.WithProcess(h.id).Warn("process output ended with error", "error", err)
			}
			return
		}
	}
}

// await waits for exit, settles the final status and releases waiters.
func (h *Handle) await(ctx context.Context) {
	code, err := h.raw.Wait(ctx)

	// Backends close output at exit; the bound covers children that keep
	// it open.
	select {
	case <-h.pumped:
	case <-time.After(outputDrainTimeout):
	}

	h.mu.Lock()
	terminating := h.terminating
	h.mu.Unlock()

	final := backend.StatusErrored
	switch {
	case err != nil, terminating:
		final = backend.StatusTerminated
		if err != nil {
			code = -1
		}
	case code == 0:
		final = backend.StatusCompleted
	}
	if err == nil && !terminating {
		// The backend may know better, e.g. a remote "failed" with code 0.
		if info, serr := h.m.backend.Status(context.WithoutCancel(ctx), h.id); serr == nil && info.Status.IsTerminal() {
			final = info.Status
		}
	}

	h.mu.Lock()
	if h.status.CanTransition(final) {
		h.status = final
	}
	h.exitCode = code
	status := h.status
	h.mu.Unlock()

	_ = h.out.Close()
	h.m.exited(h, status, code)
	close(h.done)
}
