// Package sandbox holds the single execution backend of a session. The
// backend boots lazily on first use, exactly once; a failed boot is
// remembered and returned to every later caller.
package sandbox

import (
	"context"
	"sync"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

// Holder owns a lazily booted backend.
type Holder struct {
	factory Factory
	bus     *event.Bus
	logger  *logging.Logger

	once sync.Once
	done chan struct{}

	mu      sync.Mutex
	backend backend.Backend
	err     error
	hooks   []func(backend.Backend)
	closed  bool
}

// NewHolder creates a Holder that boots with factory. bus and logger may be nil.
func NewHolder(factory Factory, bus *event.Bus, logger *logging.Logger) *Holder {
	return &Holder{
		factory: factory,
		bus:     bus,
		logger:  logging.OrNop(logger),
		done:    make(chan struct{}),
	}
}

// Init boots the backend on the first call and returns it. Concurrent and
// later calls wait for, and share, the outcome of that first boot. ctx only
// bounds the boot itself and the wait.
func (h *Holder) Init(ctx context.Context) (backend.Backend, error) {
	h.once.Do(func() {
		go h.boot(ctx)
	})

	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.Wrap(errors.ErrClosed, "sandbox")
	}
	return h.backend, h.err
}

func (h *Holder) boot(ctx context.Context) {
	b, err := h.factory(ctx)
	if err == nil && b == nil {
		err = errors.New("sandbox factory returned no backend")
	}

	h.mu.Lock()
	if h.closed && b != nil {
		// Closed while booting.
		_ = b.Close()
		b, err = nil, errors.Wrap(errors.ErrClosed, "sandbox")
	}
	h.backend, h.err = b, err
	hooks := h.hooks
	h.hooks = nil
	close(h.done)
	h.mu.Unlock()

	if err != nil {
		h.logger.Error("sandbox boot failed", "error", err)
		return
	}

	h.logger.Info("sandbox ready", "backend", string(b.Kind()), "workdir", b.WorkDir())
	if h.bus != nil {
		h.bus.Publish(event.NewBackendReadyEvent(string(b.Kind()), b.WorkDir()))
	}
	for _, fn := range hooks {
		fn(b)
	}
}

// Get returns the backend if it has booted successfully.
func (h *Holder) Get() (backend.Backend, bool) {
	select {
	case <-h.done:
	default:
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.err != nil {
		return nil, false
	}
	return h.backend, true
}

// OnReady registers fn to run once the backend has booted. If it already
// has, fn runs immediately. fn never runs when the boot fails.
func (h *Holder) OnReady(fn func(backend.Backend)) {
	h.mu.Lock()
	select {
	case <-h.done:
		b, err, closed := h.backend, h.err, h.closed
		h.mu.Unlock()
		if err == nil && !closed {
			fn(b)
		}
		return
	default:
	}
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Close shuts down the backend if one was booted. Later Init calls fail.
func (h *Holder) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	b := h.backend
	h.hooks = nil
	h.mu.Unlock()

	if b == nil {
		return nil
	}
	return b.Close()
}
