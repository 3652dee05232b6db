package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
)

const (
	// terminateGrace is how long a process gets to exit after SIGTERM
	// before it is killed.
	terminateGrace = 3 * time.Second

	// ptyDrainTimeout bounds how long output is drained after the process
	// exits, since orphaned children may keep the pty or pipe open.
	ptyDrainTimeout = 500 * time.Millisecond
)

// process is a spawned host process.
type process struct {
	id      string
	command string
	cmd     *exec.Cmd
	stdin   io.Writer
	out     *backend.Stream
	done    chan struct{}
	wg      conc.WaitGroup

	mu          sync.Mutex
	status      backend.ProcessStatus
	exitCode    int
	terminating bool
}

func (p *process) ID() string        { return p.id }
func (p *process) Output() io.Reader { return p.out }

// Wait blocks until the process exits.
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

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// finish records the exit status once cmd.Wait has returned.
func (p *process) finish(waitErr error) {
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// Orphaned children held the output open; the process itself exited.
		waitErr = nil
	}
	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	} else if waitErr != nil {
		code = -1
	}

	p.mu.Lock()
	p.exitCode = code
	next := backend.StatusErrored
	switch {
	case p.terminating:
		next = backend.StatusTerminated
	case waitErr == nil && code == 0:
		next = backend.StatusCompleted
	}
	if p.status.CanTransition(next) {
		p.status = next
	}
	p.mu.Unlock()

	close(p.done)
}

// terminate signals the process group and escalates to SIGKILL after the
// grace period.
func (p *process) terminate(ctx context.Context) error {
	if p.exited() {
		return nil
	}

	p.mu.Lock()
	p.terminating = true
	p.mu.Unlock()

	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	timer := time.NewTimer(terminateGrace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spawn starts a long-lived process. Stdout and stderr are merged into the
// process's output stream.
func (b *Backend) Spawn(ctx context.Context, req backend.SpawnRequest) (backend.RawProcess, error) {
	if b.isClosed() {
		return nil, b.closedError("spawn")
	}
	cmd, err := b.command(req.Command, req.Args, req.Cwd, req.Env)
	if err != nil {
		return nil, err
	}

	p := &process{
		id:      uuid.NewString(),
		command: req.Command,
		cmd:     cmd,
		out:     backend.NewStream(),
		done:    make(chan struct{}),
		status:  backend.StatusPending,
	}

	if b.opts.UsePTY {
		err = b.startPTY(p)
	} else {
		err = b.startPipes(p)
	}
	if err != nil {
		return nil, errors.NewProcessError("failed to start process", err).WithCommand(req.Command)
	}

	p.mu.Lock()
	p.status = backend.StatusRunning
	p.mu.Unlock()

	b.mu.Lock()
	b.procs[p.id] = p
	b.mu.Unlock()

	b.logger.WithProcess(p.id).Info("process started", "command", req.Command, "pid", cmd.Process.Pid)
	return p, nil
}

func (b *Backend) startPipes(p *process) error {
	p.cmd.Stdout = p.out
	p.cmd.Stderr = p.out
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.cmd.WaitDelay = ptyDrainTimeout

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return err
	}
	p.stdin = stdin

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.wg.Go(func() {
		err := p.cmd.Wait()
		_ = stdin.Close()
		_ = p.out.Close()
		p.finish(err)
	})
	return nil
}

func (b *Backend) startPTY(p *process) error {
	f, err := pty.StartWithSize(p.cmd, &pty.Winsize{
		Cols: uint16(b.opts.PTYCols),
		Rows: uint16(b.opts.PTYRows),
	})
	if err != nil {
		return err
	}
	p.stdin = f

	drained := make(chan struct{})
	p.wg.Go(func() {
		defer close(drained)
		_, _ = io.Copy(p.out, f)
	})
	p.wg.Go(func() {
		err := p.cmd.Wait()
		select {
		case <-drained:
		case <-time.After(ptyDrainTimeout):
		}
		_ = f.Close()
		_ = p.out.Close()
		p.finish(err)
	})
	return nil
}

// command builds an exec.Cmd. Without args the command string is handed to
// the configured shell.
func (b *Backend) command(command string, args []string, cwd string, env map[string]string) (*exec.Cmd, error) {
	dir, err := b.resolve("spawn", cwd)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if len(args) == 0 {
		cmd = exec.Command(b.opts.Shell, "-c", command)
	} else {
		cmd = exec.Command(command, args...)
	}
	cmd.Dir = b.hostPath(dir)
	cmd.Env = buildEnv(env)
	return cmd, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func (b *Backend) lookup(op, id string) (*process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.procs[id]
	if !ok {
		return nil, errors.NewBackendError(errors.KindNotFound, op, nil).
			WithPath(id).
			WithBackend(string(backend.KindLocal)).
			WithMessage("no such process")
	}
	return p, nil
}

// Terminate stops a spawned process and its process group.
func (b *Backend) Terminate(ctx context.Context, id string) error {
	p, err := b.lookup("terminate", id)
	if err != nil {
		return err
	}
	if err := p.terminate(ctx); err != nil {
		return errors.NewProcessError("failed to terminate process", err).WithProcessID(id).WithCommand(p.command)
	}
	p.wg.Wait()
	return nil
}

// SendInput writes input to the process's stdin.
func (b *Backend) SendInput(ctx context.Context, id string, input string) error {
	p, err := b.lookup("input", id)
	if err != nil {
		return err
	}
	if p.exited() {
		return errors.NewProcessError("process has exited", errors.ErrClosed).WithProcessID(id)
	}
	if _, err := io.WriteString(p.stdin, input); err != nil {
		return errors.NewProcessError("failed to write input", err).WithProcessID(id)
	}
	return nil
}

// Status reports the process state.
func (b *Backend) Status(ctx context.Context, id string) (backend.ProcessInfo, error) {
	p, err := b.lookup("status", id)
	if err != nil {
		return backend.ProcessInfo{}, err
	}
	return p.info(), nil
}

// Exec runs a one-shot shell command and captures stdout and stderr
// separately. A non-zero exit is reported in the result, not as an error.
func (b *Backend) Exec(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
	if b.isClosed() {
		return backend.ExecResult{}, b.closedError("exec")
	}
	dir, err := b.resolve("exec", req.Cwd)
	if err != nil {
		return backend.ExecResult{}, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, b.opts.Shell, "-c", req.Command)
	cmd.Dir = b.hostPath(dir)
	cmd.Env = buildEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	id := uuid.NewString()
	logger := b.logger.WithProcess(id)
	logger.Debug("exec", "command", req.Command, "cwd", dir)

	runErr := cmd.Run()
	result := backend.ExecResult{
		ID:     id,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Warn("exec timed out", "command", req.Command, "timeout", req.Timeout)
		return result, errors.NewTimeoutError("exec "+req.Command, req.Timeout).WithCause(ctx.Err())
	case ctx.Err() != nil:
		return result, errors.Wrap(ctx.Err(), "exec cancelled")
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return result, nil
		}
		return result, errors.NewProcessError("failed to run command", runErr).WithProcessID(id).WithCommand(req.Command)
	}
	return result, nil
}
