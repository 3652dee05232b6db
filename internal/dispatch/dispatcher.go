// Package dispatch executes the actions a parser extracts from a model
// response. Every artifact gets its own FIFO queue drained by one goroutine,
// so the actions of an artifact run strictly in document order while
// separate artifacts proceed independently.
//
// A failing file or shell action halts its artifact: the actions still
// queued behind it are skipped. A failing start action is reported but does
// not halt anything.
package dispatch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/boltkit/internal/alert"
	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/config"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/logging"
	"github.com/Iron-Ham/boltkit/internal/parser"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
	"github.com/Iron-Ham/boltkit/internal/process"
)

// Options configures a Dispatcher.
type Options struct {
	// ShellTimeout bounds each shell action. Zero means no limit.
	ShellTimeout time.Duration
	// Parser is used by Run. Defaults to parser.New with default options.
	Parser *parser.Parser
	// Alerts receives every failure. Defaults to discarding them.
	Alerts alert.Sink
	Bus    *event.Bus
	Logger *logging.Logger
	// OnProcess receives every process a start action spawns. When nil the
	// process output is drained and discarded.
	OnProcess func(*process.Handle)
}

// OptionsFromConfig derives dispatcher options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{ShellTimeout: cfg.Dispatch.ShellTimeout()}
}

// Dispatcher applies parser events to a backend.
type Dispatcher struct {
	backend backend.Backend
	procs   *process.Manager
	opts    Options
	parser  *parser.Parser
	alerts  alert.Sink
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu        sync.Mutex
	artifacts map[string]*artifact // latest occurrence by artifactKey
	order     []*artifact
	active    int // artifacts with a running worker
	idle      chan struct{}
	closed    bool
}

type artifact struct {
	id           string
	title        string
	streamID     string
	closed       bool
	unterminated bool // stream finished before the close tag
	aborted      bool // an unterminated action was already reported
	halted       bool
	actions      []*entry
	byID         map[string]*entry
	queue        []*entry
	running      bool
}

// artifactKey scopes an artifact id to its stream. The same id in another
// stream, or in a later turn, is a separate occurrence.
func artifactKey(streamID, id string) string {
	return streamID + "\x00" + id
}

type entry struct {
	action parser.Action
	state  ActionState
	ctx    context.Context
}

// outcome carries what a successful action produced.
type outcome struct {
	processID string
	exitCode  int
	output    string
}

// New creates a Dispatcher executing against b. Start actions are spawned
// through procs; a nil procs gets a manager of its own.
func New(b backend.Backend, procs *process.Manager, opts Options) *Dispatcher {
	logger := logging.OrNop(opts.Logger)
	if procs == nil {
		procs = process.NewManager(b, process.Options{
			InteractiveMarker: config.DefaultInteractiveMarker,
			Bus:               opts.Bus,
			Logger:            logger,
		})
	}
	p := opts.Parser
	if p == nil {
		p = parser.New(parser.Options{Logger: logger})
	}
	sink := opts.Alerts
	if sink == nil {
		sink = alert.SinkFunc(func(alert.Alert) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		backend:   b,
		procs:     procs,
		opts:      opts,
		parser:    p,
		alerts:    sink,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		artifacts: make(map[string]*artifact),
		idle:      make(chan struct{}),
	}
}

// Processes returns the manager start actions are spawned through.
func (d *Dispatcher) Processes() *process.Manager { return d.procs }

// Handle consumes one parser event. Events of a turn must be handed over
// in the order the parser produced them. Actions enqueued by ev run with
// ctx, so cancelling it aborts them.
func (d *Dispatcher) Handle(ctx context.Context, ev parser.Event) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.logger.Debug("event after close ignored", "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case parser.EventArtifactOpen:
		d.openArtifact(ev)

	case parser.EventArtifactClose:
		d.mu.Lock()
		if a, ok := d.artifacts[artifactKey(ev.StreamID, ev.Artifact.ID)]; ok {
			a.closed = true
		}
		d.mu.Unlock()
		d.publish(event.NewArtifactClosedEvent(ev.StreamID, ev.Artifact.ID))

	case parser.EventArtifactUnterminated:
		d.endArtifact(ev)

	case parser.EventActionOpen:
		d.mu.Lock()
		d.track(d.ensure(ev), ev.Action)
		d.mu.Unlock()

	case parser.EventActionStream:
		if ev.Action.Type == parser.ActionFile {
			d.publish(event.NewActionPreviewEvent(ev.Action.ArtifactID, ev.Action.ID, ev.Action.FilePath, ev.Text))
		}

	case parser.EventActionClose:
		d.enqueue(ctx, ev)

	case parser.EventActionUnterminated:
		d.abort(ev)

	case parser.EventMalformed:
		err := ev.Err
		if err == nil {
			err = errors.NewParseError(ev.Reason).WithStream(ev.StreamID).WithOffset(ev.Offset)
		}
		a := alert.FromError(alert.SourceParser, "Malformed action tag", err)
		a.Content = ev.Text
		d.alerts.Raise(a)
	}
}

func (d *Dispatcher) openArtifact(ev parser.Event) {
	d.mu.Lock()
	if a, ok := d.artifacts[artifactKey(ev.StreamID, ev.Artifact.ID)]; ok && !a.closed {
		d.mu.Unlock()
		return
	}
	a := d.newArtifact(ev.StreamID, ev.Artifact.ID, ev.Artifact.Title)
	d.mu.Unlock()

	d.logger.WithStream(ev.StreamID).WithArtifact(a.id).Debug("artifact opened", "title", a.title)
	d.publish(event.NewArtifactOpenedEvent(ev.StreamID, a.id, a.title))
}

// newArtifact starts tracking an artifact occurrence. An earlier occurrence
// of the same id stays in the snapshot. Callers hold d.mu.
func (d *Dispatcher) newArtifact(streamID, id, title string) *artifact {
	a := &artifact{
		id:       id,
		title:    title,
		streamID: streamID,
		byID:     make(map[string]*entry),
	}
	d.artifacts[artifactKey(streamID, id)] = a
	d.order = append(d.order, a)
	return a
}

// ensure returns the open artifact ev belongs to, tracking a new occurrence
// if its open event was never seen. Callers hold d.mu.
func (d *Dispatcher) ensure(ev parser.Event) *artifact {
	id := ev.Action.ArtifactID
	if id == "" {
		id = ev.Artifact.ID
	}
	if a, ok := d.artifacts[artifactKey(ev.StreamID, id)]; ok && !a.closed {
		return a
	}
	return d.newArtifact(ev.StreamID, id, ev.Artifact.Title)
}

// track returns the entry for action, adding it in document order.
// Callers hold d.mu.
func (d *Dispatcher) track(a *artifact, action parser.Action) *entry {
	if e, ok := a.byID[action.ID]; ok {
		return e
	}
	e := &entry{
		action: action,
		state: ActionState{
			ID:       action.ID,
			Type:     action.Type,
			FilePath: action.FilePath,
			Status:   ActionPending,
		},
	}
	a.actions = append(a.actions, e)
	a.byID[action.ID] = e
	return e
}

func (d *Dispatcher) enqueue(ctx context.Context, ev parser.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a := d.ensure(ev)
	e := d.track(a, ev.Action)
	if e.state.Status != ActionPending {
		return
	}
	e.action = ev.Action
	e.ctx = ctx

	if a.halted || d.closed {
		e.state.Status = ActionSkipped
		d.logger.WithArtifact(a.id).Info("action skipped", "action_id", e.action.ID, "halted", a.halted)
		return
	}

	a.queue = append(a.queue, e)
	if a.running {
		return
	}
	a.running = true
	d.active++
	d.wg.Go(func() { d.work(a) })
}

func (d *Dispatcher) abort(ev parser.Event) {
	d.mu.Lock()
	a := d.ensure(ev)
	e := d.track(a, ev.Action)
	if e.state.Status == ActionPending {
		e.state.Status = ActionAborted
	}
	a.aborted = true
	d.mu.Unlock()

	err := errors.NewParseError("action was not closed").
		WithStream(ev.StreamID).
		WithElement("boltAction " + ev.Action.ID).
		WithOffset(ev.Offset)
	d.alerts.Raise(alert.FromError(alert.SourceParser, "Incomplete action", err))
}

// endArtifact closes an artifact whose stream finished inside it. Its actions
// that already closed still run. The alert is skipped when an unterminated
// action of the artifact was reported already.
func (d *Dispatcher) endArtifact(ev parser.Event) {
	d.mu.Lock()
	a, ok := d.artifacts[artifactKey(ev.StreamID, ev.Artifact.ID)]
	if !ok || a.closed {
		d.mu.Unlock()
		return
	}
	a.closed = true
	a.unterminated = true
	reported := a.aborted
	d.mu.Unlock()

	d.logger.WithStream(ev.StreamID).WithArtifact(a.id).Warn("artifact not closed before stream finished")
	d.publish(event.NewArtifactClosedEvent(ev.StreamID, a.id))
	if reported {
		return
	}
	err := errors.NewParseError("artifact was not closed").
		WithStream(ev.StreamID).
		WithElement("boltArtifact " + a.id).
		WithOffset(ev.Offset)
	d.alerts.Raise(alert.FromError(alert.SourceParser, "Incomplete artifact", err))
}

// finishStream closes every artifact still open in streamID, so a later
// turn reusing an id starts a fresh occurrence.
func (d *Dispatcher) finishStream(streamID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.order {
		if a.streamID == streamID && !a.closed {
			a.closed = true
			a.unterminated = true
		}
	}
}

// work drains a's queue, then exits. enqueue starts a new worker when more
// actions arrive.
func (d *Dispatcher) work(a *artifact) {
	logger := d.logger.WithStream(a.streamID).WithArtifact(a.id)
	for {
		d.mu.Lock()
		if len(a.queue) == 0 {
			a.running = false
			d.active--
			if d.active == 0 {
				close(d.idle)
				d.idle = make(chan struct{})
			}
			d.mu.Unlock()
			return
		}
		e := a.queue[0]
		a.queue = a.queue[1:]
		e.state.Status = ActionRunning
		d.mu.Unlock()

		start := time.Now()
		res, err := d.execute(e)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("action failed", "action_id", e.action.ID, "type", e.action.Type, "error", err)
			d.fail(a, e, elapsed, err)
			continue
		}
		logger.Info("action completed", "action_id", e.action.ID, "type", e.action.Type, "duration", elapsed)
		d.complete(a, e, elapsed, res)
	}
}

// execute runs one action, turning a panic into an error.
func (d *Dispatcher) execute(e *entry) (res outcome, err error) {
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	var pc panics.Catcher
	pc.Try(func() { res, err = d.run(ctx, e.action) })
	if r := pc.Recovered(); r != nil {
		d.logger.Error("action panicked", "action_id", e.action.ID, "panic", r.Value, "stack", string(r.Stack))
		return outcome{}, errors.Wrap(r.AsError(), "action panicked")
	}
	return res, err
}

func (d *Dispatcher) run(ctx context.Context, action parser.Action) (outcome, error) {
	switch action.Type {
	case parser.ActionFile:
		return outcome{}, d.writeFile(ctx, action)
	case parser.ActionShell:
		return d.shell(ctx, action)
	case parser.ActionStart:
		return d.start(ctx, action)
	default:
		return outcome{}, errors.NewBackendError(errors.KindNotSupported, string(action.Type), nil).
			WithMessage("unknown action type")
	}
}

func (d *Dispatcher) writeFile(ctx context.Context, action parser.Action) error {
	if dir := pathutil.Dirname(action.FilePath); dir != "." && dir != "/" {
		if err := d.backend.Mkdir(ctx, dir, true); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := d.backend.WriteFile(ctx, action.FilePath, []byte(action.Content)); err != nil {
		return errors.Wrapf(err, "failed to write %s", action.FilePath)
	}
	return nil
}

func (d *Dispatcher) shell(ctx context.Context, action parser.Action) (outcome, error) {
	res, err := d.backend.Exec(ctx, backend.ExecRequest{
		Command: action.Content,
		Timeout: d.opts.ShellTimeout,
	})
	if err != nil {
		return outcome{}, err
	}
	out := outcome{exitCode: res.ExitCode, output: res.Stdout + res.Stderr}
	if res.ExitCode != 0 {
		return out, errors.NewProcessError("command exited with non-zero status", nil).
			WithProcessID(res.ID).
			WithCommand(action.Content).
			WithExitCode(res.ExitCode).
			WithOutput(out.output)
	}
	return out, nil
}

func (d *Dispatcher) start(ctx context.Context, action parser.Action) (outcome, error) {
	h, err := d.procs.Spawn(ctx, backend.SpawnRequest{Command: action.Content})
	if err != nil {
		return outcome{}, err
	}
	if d.opts.OnProcess != nil {
		d.opts.OnProcess(h)
	} else {
		go func() { _, _ = io.Copy(io.Discard, h.Output()) }()
	}
	go d.watchExit(h)
	return outcome{processID: h.ID()}, nil
}

// watchExit raises an alert when a started process fails.
func (d *Dispatcher) watchExit(h *process.Handle) {
	select {
	case <-h.Done():
	case <-d.ctx.Done():
		return
	}
	res, err := h.Wait(d.ctx)
	if err != nil || res.Status != backend.StatusErrored {
		return
	}
	perr := errors.NewProcessError("process exited with non-zero status", nil).
		WithProcessID(res.ID).
		WithCommand(h.Command()).
		WithExitCode(res.ExitCode)
	d.alerts.Raise(alert.FromError(alert.SourceProcess, "Process exited: "+h.Command(), perr))
}

func (d *Dispatcher) complete(a *artifact, e *entry, elapsed time.Duration, res outcome) {
	d.mu.Lock()
	e.state.Status = ActionComplete
	e.state.ProcessID = res.processID
	e.state.Duration = elapsed
	d.mu.Unlock()

	ev := event.NewActionCompletedEvent(a.id, e.action.ID, string(e.action.Type))
	ev.Duration = elapsed
	switch e.action.Type {
	case parser.ActionFile:
		ev.FilePath = e.action.FilePath
	case parser.ActionShell:
		ev.Command = e.action.Content
		ev.ExitCode = res.exitCode
		ev.Output = res.output
	case parser.ActionStart:
		ev.Command = e.action.Content
		ev.ProcessID = res.processID
	}
	d.publish(ev)
}

func (d *Dispatcher) fail(a *artifact, e *entry, elapsed time.Duration, err error) {
	halt := e.action.Type != parser.ActionStart

	d.mu.Lock()
	e.state.Status = ActionFailed
	e.state.Err = err
	e.state.Duration = elapsed
	var skipped []*entry
	if halt {
		a.halted = true
		skipped = a.queue
		a.queue = nil
		for _, s := range skipped {
			s.state.Status = ActionSkipped
		}
	}
	d.mu.Unlock()

	d.alerts.Raise(alert.FromError(alert.SourceDispatcher, failureTitle(e.action), err))
	d.publish(event.NewActionFailedEvent(a.id, e.action.ID, string(e.action.Type), err))
	if !halt {
		return
	}

	herr := errors.NewHaltError(a.id, e.action.ID, err).WithSkipped(len(skipped))
	title := "Stopped running actions"
	if a.title != "" {
		title += " for " + a.title
	}
	d.alerts.Raise(alert.FromError(alert.SourceDispatcher, title, herr))
	d.publish(event.NewArtifactHaltedEvent(a.id, e.action.ID, len(skipped)))
}

func failureTitle(action parser.Action) string {
	switch action.Type {
	case parser.ActionFile:
		return "Failed to write " + action.FilePath
	case parser.ActionShell:
		return "Command failed: " + action.Content
	case parser.ActionStart:
		return "Failed to start: " + action.Content
	default:
		return "Action failed"
	}
}

// Wait blocks until every queued action has finished. Started processes
// are not waited for.
func (d *Dispatcher) Wait(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.active == 0 {
			d.mu.Unlock()
			return nil
		}
		idle := d.idle
		d.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Artifacts returns a snapshot of every artifact seen, in the order they
// were opened.
func (d *Dispatcher) Artifacts() []ArtifactState {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ArtifactState, 0, len(d.order))
	for _, a := range d.order {
		s := ArtifactState{
			ID:           a.id,
			Title:        a.title,
			StreamID:     a.streamID,
			Closed:       a.closed,
			Unterminated: a.unterminated,
			Halted:       a.halted,
			Actions:      make([]ActionState, 0, len(a.actions)),
		}
		for _, e := range a.actions {
			s.Actions = append(s.Actions, e.state)
		}
		out = append(out, s)
	}
	return out
}

// Run feeds every chunk from chunks through the parser under streamID and
// dispatches the resulting events. When chunks is closed the stream is
// finished, its artifacts are closed, and Run waits for the queued actions. Cancelling ctx resets the
// stream and aborts running actions.
func (d *Dispatcher) Run(ctx context.Context, streamID string, chunks <-chan string) error {
	logger := d.logger.WithStream(streamID)
	for {
		select {
		case <-ctx.Done():
			d.parser.Reset(streamID)
			d.finishStream(streamID)
			logger.Info("stream cancelled")
			return ctx.Err()
		case chunk, ok := <-chunks:
			if ok {
				for _, ev := range d.parser.Feed(streamID, chunk) {
					d.Handle(ctx, ev)
				}
				continue
			}
			events, finishErr := d.parser.Finish(streamID)
			for _, ev := range events {
				d.Handle(ctx, ev)
			}
			d.finishStream(streamID)
			if finishErr != nil {
				logger.Warn("stream ended inside an element", "error", finishErr)
			}
			return errors.Join(finishErr, d.Wait(ctx))
		}
	}
}

// Close aborts running actions, waits for the workers to exit and shuts
// down the process manager.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return d.procs.Shutdown(ctx)
}

func (d *Dispatcher) publish(e event.Event) {
	if d.opts.Bus != nil {
		d.opts.Bus.Publish(e)
	}
}
