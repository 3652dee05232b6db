// Package process manages long-lived processes started by actions. It wraps
// each backend process in a Handle with one behavior for both backends:
// ordered fire-and-forget input, an output stream that opens with the
// interactive-mode marker, and a status that only moves forward.
package process

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/config"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

const (
	// inputQueueSize bounds queued but undelivered input per process.
	inputQueueSize = 256

	// outputDrainTimeout bounds how long output is drained after exit.
	outputDrainTimeout = 2 * time.Second
)

// Options configures a Manager.
type Options struct {
	// InteractiveMarker precedes the first output chunk. Empty disables it.
	InteractiveMarker string
	// PublishOutput publishes every output chunk as an event.
	PublishOutput bool
	Bus           *event.Bus
	Logger        *logging.Logger
}

// DefaultOptions returns options using the standard interactive marker.
func DefaultOptions() Options {
	return Options{InteractiveMarker: config.DefaultInteractiveMarker}
}

// Manager tracks the processes spawned on one backend.
type Manager struct {
	backend backend.Backend
	opts    Options
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewManager creates a Manager for b.
func NewManager(b backend.Backend, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend: b,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

// Spawn starts a process and returns immediately.
func (m *Manager) Spawn(ctx context.Context, req backend.SpawnRequest) (*Handle, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, errors.NewProcessError("process manager is shut down", errors.ErrClosed).WithCommand(req.Command)
	}

	raw, err := m.backend.Spawn(ctx, req)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		id:      raw.ID(),
		command: req.Command,
		started: time.Now(),
		m:       m,
		raw:     raw,
		out:     backend.NewStream(),
		input:   make(chan string, inputQueueSize),
		pumped:  make(chan struct{}),
		done:    make(chan struct{}),
		status:  backend.StatusRunning,
	}

	m.mu.Lock()
	m.handles[h.id] = h
	m.mu.Unlock()

	m.logger.WithProcess(h.id).Info("process spawned", "command", req.Command)
	m.publish(event.NewProcessStartedEvent(h.id, req.Command))

	m.wg.Go(h.pumpOutput)
	m.wg.Go(func() { h.pumpInput(m.ctx) })
	m.wg.Go(func() { h.await(m.ctx) })
	return h, nil
}

// Get returns a tracked handle.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	return h, ok
}

// List returns tracked handles ordered by start time.
func (m *Manager) List() []*Handle {
	m.mu.Lock()
	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].started.Before(out[j].started) })
	return out
}

// Terminate stops a tracked process, waits for it to exit and stops
// tracking it. Terminating an exited process is not an error.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		return errors.NewBackendError(errors.KindNotFound, "terminate", nil).
			WithPath(id).
			WithMessage("no such process")
	}
	return m.terminate(ctx, h)
}

func (m *Manager) terminate(ctx context.Context, h *Handle) error {
	select {
	case <-h.done:
		m.forget(h.id)
		return nil
	default:
	}

	h.mu.Lock()
	h.terminating = true
	h.mu.Unlock()

	if err := m.backend.Terminate(ctx, h.id); err != nil {
		return err
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.forget(h.id)
	return nil
}

// Shutdown terminates every tracked process and waits for the manager's
// goroutines. Later Spawn calls fail.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := m.terminate(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	m.cancel()
	m.wg.Wait()
	return errors.Join(errs...)
}

// exited is called once per handle after it reaches a terminal status.
func (m *Manager) exited(h *Handle, status backend.ProcessStatus, code int) {
	m.logger.WithProcess(h.id).Info("process exited", "status", string(status), "exit_code", code)
	m.publish(event.NewProcessExitedEvent(h.id, string(status), code))
	m.forget(h.id)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, id)
}

func (m *Manager) publish(e event.Event) {
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(e)
	}
}

func (m *Manager) publishOutput(id, chunk string) {
	if m.opts.PublishOutput {
		m.publish(event.NewProcessOutputEvent(id, chunk))
	}
}

func (m *Manager) publishDropped(id string, n int, err error) {
	m.publish(event.NewInputDroppedEvent(id, n, err))
}
