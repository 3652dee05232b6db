// Package remote implements the polling backend: every operation is an HTTP
// call to a remote execution service, and long-lived processes and file
// watches are observed by polling.
package remote

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/logging"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// Options configures a remote Backend.
type Options struct {
	// BaseURL is the root of the service API, e.g. https://sandbox.example.com
	BaseURL string
	// APIKey is sent as X-API-Key on every request.
	APIKey string
	// WorkDir is the absolute working directory inside the remote sandbox.
	WorkDir string

	Retry RetryPolicy

	// PollInterval is how often spawned processes are polled (default 500ms).
	PollInterval time.Duration
	// WatchInterval is how often watched trees are snapshotted (default 1s).
	WatchInterval time.Duration
	// QuickTimeout bounds file operations, status and input (default 10s).
	QuickTimeout time.Duration
	// LongTimeout bounds one-shot commands (default 5m).
	LongTimeout time.Duration

	// Ignore lists glob patterns applied to every watch.
	Ignore []string

	HTTPClient *http.Client
	Logger     *logging.Logger
}

func (o *Options) setDefaults() {
	if o.WorkDir == "" {
		o.WorkDir = "/home/project"
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = time.Second
	}
	if o.QuickTimeout <= 0 {
		o.QuickTimeout = 10 * time.Second
	}
	if o.LongTimeout <= 0 {
		o.LongTimeout = 5 * time.Minute
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
}

// Backend is the remote polling backend.
type Backend struct {
	opts    Options
	client  *client
	ignore  *backend.IgnoreMatcher
	logger  *logging.Logger
	workDir string

	// ctx is cancelled by Close and parents every poller.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	procs    map[string]*process
	watchers map[*poller]struct{}
	closed   bool
}

var _ backend.Backend = (*Backend)(nil)

// New creates a remote backend. No request is made until first use.
func New(opts Options) (*Backend, error) {
	if opts.BaseURL == "" {
		return nil, errors.NewBackendError(errors.KindUnknown, "connect", errors.ErrInvalidInput).
			WithBackend(string(backend.KindRemote)).
			WithMessage("remote base URL is required").
			WithRetryable(false)
	}
	opts.setDefaults()

	ignore, err := backend.NewIgnoreMatcher(opts.Ignore)
	if err != nil {
		return nil, err
	}

	logger := logging.OrNop(opts.Logger).WithBackend(string(backend.KindRemote))
	ctx, cancel := context.WithCancel(context.Background())

	return &Backend{
		opts: opts,
		client: &client{
			baseURL: strings.TrimRight(opts.BaseURL, "/"),
			apiKey:  opts.APIKey,
			http:    opts.HTTPClient,
			retry:   opts.Retry,
			logger:  logger,
		},
		ignore:   ignore,
		logger:   logger,
		workDir:  pathutil.Clean(opts.WorkDir),
		ctx:      ctx,
		cancel:   cancel,
		procs:    make(map[string]*process),
		watchers: make(map[*poller]struct{}),
	}, nil
}

// Kind returns backend.KindRemote.
func (b *Backend) Kind() backend.Kind { return backend.KindRemote }

// WorkDir returns the working directory inside the remote sandbox.
func (b *Backend) WorkDir() string { return b.workDir }

func (b *Backend) resolve(op, p string) (string, error) {
	return backend.Resolve(backend.KindRemote, b.workDir, op, p)
}

// abs returns the absolute remote path for a workdir-relative path.
func (b *Backend) abs(rel string) string {
	return pathutil.Join(b.workDir, rel)
}

// Symlink is not supported.
func (b *Backend) Symlink(ctx context.Context, target, link string) error {
	return backend.NotSupported(backend.KindRemote, "symlink", link)
}

// Readlink is not supported.
func (b *Backend) Readlink(ctx context.Context, path string) (string, error) {
	return "", backend.NotSupported(backend.KindRemote, "readlink", path)
}

// Close stops every poller. Remote processes are asked to terminate on a
// best-effort basis.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	watchers := make([]*poller, 0, len(b.watchers))
	for w := range b.watchers {
		watchers = append(watchers, w)
	}
	running := make([]string, 0, len(b.procs))
	for id, p := range b.procs {
		if !p.info().Status.IsTerminal() {
			running = append(running, id)
		}
	}
	b.mu.Unlock()

	for _, w := range watchers {
		_ = w.Close()
	}
	for _, id := range running {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.QuickTimeout)
		if err := b.Terminate(ctx, id); err != nil {
			b.logger.Warn("failed to terminate process on close", "process_id", id, "error", err)
		}
		cancel()
	}
	b.cancel()
	return nil
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) closedError(op string) error {
	return errors.NewBackendError(errors.KindUnknown, op, errors.ErrClosed).
		WithBackend(string(backend.KindRemote)).
		WithRetryable(false)
}
