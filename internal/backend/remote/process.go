package remote

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
)

// remoteShell runs command strings on the service when no args are given.
const remoteShell = "sh"

func processPath(id string) string {
	return "/process/" + url.PathEscape(id)
}

// execute posts /execute and, if the service answers before the command has
// finished, polls the process until it reaches a terminal status.
func (b *Backend) execute(ctx context.Context, req ExecuteRequest, timeout time.Duration) (ProcessResponse, error) {
	if b.isClosed() {
		return ProcessResponse{}, b.closedError("execute")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var resp ProcessResponse
	if err := b.client.do(ctx, http.MethodPost, "/execute", req, &resp, timeout); err != nil {
		return resp, err
	}
	if resp.ProcessStatus().IsTerminal() {
		return resp, nil
	}

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for !resp.ProcessStatus().IsTerminal() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return resp, errors.NewTimeoutError("execute "+req.Command, timeout).WithCause(ctx.Err())
			}
			return resp, errors.Wrap(ctx.Err(), "execute cancelled")
		case <-ticker.C:
		}
		if err := b.client.do(ctx, http.MethodGet, processPath(resp.ID), nil, &resp, timeout); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// Exec runs a one-shot command under the long-operation timeout, or
// req.Timeout when set. A non-zero exit is reported in the result.
func (b *Backend) Exec(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
	rel, err := b.resolve("exec", req.Cwd)
	if err != nil {
		return backend.ExecResult{}, err
	}
	timeout := b.opts.LongTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	b.logger.Debug("exec", "command", req.Command, "cwd", rel)
	resp, err := b.execute(ctx, ExecuteRequest{
		Command: req.Command,
		Cwd:     b.abs(rel),
		Env:     req.Env,
		Timeout: req.Timeout.Milliseconds(),
	}, timeout)
	if err != nil {
		return backend.ExecResult{}, err
	}
	return backend.ExecResult{
		ID:       resp.ID,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode(),
	}, nil
}

// process is a remote process observed by polling.
type process struct {
	id      string
	command string
	b       *Backend
	out     *backend.Stream
	done    chan struct{}
	stopped chan struct{}
	cancel  context.CancelFunc
	once    sync.Once

	mu         sync.Mutex
	status     backend.ProcessStatus
	exitCode   int
	stdoutSeen int
	stderrSeen int
}

func (p *process) ID() string        { return p.id }
func (p *process) Output() io.Reader { return p.out }

// Wait blocks until the poller observes a terminal status.
func (p *process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *process) info() backend.ProcessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return backend.ProcessInfo{ID: p.id, Status: p.status, ExitCode: p.exitCode}
}

// apply writes output growth (stdout, then stderr) and advances the status.
func (p *process) apply(resp ProcessResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stdoutSeen = p.writeGrowth(resp.Stdout, p.stdoutSeen)
	p.stderrSeen = p.writeGrowth(resp.Stderr, p.stderrSeen)

	next := resp.ProcessStatus()
	if p.status.CanTransition(next) && !next.IsTerminal() {
		p.status = next
	}
}

func (p *process) writeGrowth(cumulative string, seen int) int {
	if len(cumulative) < seen {
		// The service truncated its buffer; resend what it has.
		seen = 0
	}
	if len(cumulative) > seen {
		_, _ = p.out.WriteString(cumulative[seen:])
	}
	return len(cumulative)
}

// finish records the terminal status, closes the output and releases
// waiters. Only the first call has any effect.
func (p *process) finish(status backend.ProcessStatus, code int) {
	p.once.Do(func() {
		p.mu.Lock()
		if p.status.CanTransition(status) {
			p.status = status
		}
		p.exitCode = code
		p.mu.Unlock()

		_ = p.out.Close()
		close(p.done)
	})
}

func (p *process) poll(ctx context.Context) {
	defer close(p.stopped)

	logger := p.b.logger.WithProcess(p.id)
	ticker := time.NewTicker(p.b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finish(backend.StatusTerminated, -1)
			return
		case <-ticker.C:
		}

		var resp ProcessResponse
		err := p.b.client.do(ctx, http.MethodGet, processPath(p.id), nil, &resp, p.b.opts.QuickTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.KindOf(err) == errors.KindNotFound {
				logger.Warn("process disappeared", "error", err)
				p.finish(backend.StatusErrored, -1)
				return
			}
			logger.Warn("process poll failed", "error", err)
			continue
		}

		p.apply(resp)
		if status := resp.ProcessStatus(); status.IsTerminal() {
			logger.Debug("process finished", "status", status, "code", resp.ExitCode())
			p.finish(status, resp.ExitCode())
			return
		}
	}
}

// Spawn starts a long-lived remote process and begins polling it.
func (b *Backend) Spawn(ctx context.Context, req backend.SpawnRequest) (backend.RawProcess, error) {
	if b.isClosed() {
		return nil, b.closedError("spawn")
	}
	rel, err := b.resolve("spawn", req.Cwd)
	if err != nil {
		return nil, err
	}

	body := SpawnRequest{Command: req.Command, Args: req.Args, Cwd: b.abs(rel), Env: req.Env}
	if len(req.Args) == 0 {
		body.Command = remoteShell
		body.Args = []string{"-c", req.Command}
	}

	var resp ProcessResponse
	if err := b.client.do(ctx, http.MethodPost, "/spawn", body, &resp, b.opts.QuickTimeout); err != nil {
		if errors.KindOf(err) == errors.KindUnknown {
			return nil, errors.NewProcessError("failed to spawn process", err).WithCommand(req.Command)
		}
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.NewProcessError("spawn response carried no process id", nil).WithCommand(req.Command)
	}

	pctx, cancel := context.WithCancel(b.ctx)
	p := &process{
		id:      resp.ID,
		command: req.Command,
		b:       b,
		out:     backend.NewStream(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		cancel:  cancel,
		status:  backend.StatusPending,
	}
	p.apply(resp)
	if p.info().Status == backend.StatusPending {
		p.mu.Lock()
		p.status = backend.StatusRunning
		p.mu.Unlock()
	}

	b.mu.Lock()
	b.procs[p.id] = p
	b.mu.Unlock()

	if status := resp.ProcessStatus(); status.IsTerminal() {
		p.finish(status, resp.ExitCode())
		cancel()
		close(p.stopped)
	} else {
		go p.poll(pctx)
	}

	b.logger.WithProcess(p.id).Info("process started", "command", req.Command)
	return p, nil
}

func (b *Backend) lookup(op, id string) (*process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.procs[id]
	if !ok {
		return nil, errors.NewBackendError(errors.KindNotFound, op, nil).
			WithPath(id).
			WithBackend(string(backend.KindRemote)).
			WithMessage("no such process")
	}
	return p, nil
}

// Terminate asks the service to stop the process and stops polling it.
func (b *Backend) Terminate(ctx context.Context, id string) error {
	p, err := b.lookup("terminate", id)
	if err != nil {
		return err
	}
	if p.info().Status.IsTerminal() {
		return nil
	}

	err = b.client.do(ctx, http.MethodDelete, processPath(id), nil, nil, b.opts.QuickTimeout)
	if err != nil && errors.KindOf(err) != errors.KindNotFound {
		return err
	}

	p.cancel()
	<-p.stopped
	p.finish(backend.StatusTerminated, -1)
	return nil
}

// SendInput forwards input to the process's stdin.
func (b *Backend) SendInput(ctx context.Context, id string, input string) error {
	p, err := b.lookup("input", id)
	if err != nil {
		return err
	}
	if p.info().Status.IsTerminal() {
		return errors.NewProcessError("process has exited", errors.ErrClosed).WithProcessID(id)
	}
	return b.client.do(ctx, http.MethodPost, processPath(id)+"/input", InputRequest{Input: input}, nil, b.opts.QuickTimeout)
}

// Status reports the last polled state of a spawned process, or asks the
// service for processes this backend did not spawn.
func (b *Backend) Status(ctx context.Context, id string) (backend.ProcessInfo, error) {
	if p, err := b.lookup("status", id); err == nil {
		return p.info(), nil
	}

	var resp ProcessResponse
	if err := b.client.do(ctx, http.MethodGet, processPath(id), nil, &resp, b.opts.QuickTimeout); err != nil {
		return backend.ProcessInfo{}, err
	}
	return backend.ProcessInfo{ID: id, Status: resp.ProcessStatus(), ExitCode: resp.ExitCode()}, nil
}
