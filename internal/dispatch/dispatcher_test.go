package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/boltkit/internal/alert"
	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/parser"
	"github.com/Iron-Ham/boltkit/internal/testutil"
)

type harness struct {
	fake   *testutil.FakeBackend
	alerts *alert.Collector
	bus    *event.Bus
	parser *parser.Parser
	d      *Dispatcher

	mu     sync.Mutex
	events []event.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake:   testutil.NewFakeBackend(),
		alerts: alert.NewCollector(),
		bus:    event.NewBus(nil),
		parser: parser.New(parser.Options{}),
	}
	h.bus.SubscribeAll(func(e event.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	})
	h.d = New(h.fake, nil, Options{
		ShellTimeout: time.Minute,
		Parser:       h.parser,
		Alerts:       h.alerts,
		Bus:          h.bus,
	})
	t.Cleanup(func() { _ = h.d.Close(context.Background()) })
	return h
}

// feed parses doc and hands every event to the dispatcher.
func (h *harness) feed(t *testing.T, chunks ...string) {
	t.Helper()
	ctx := context.Background()
	for _, c := range chunks {
		for _, ev := range h.parser.Feed("s1", c) {
			h.d.Handle(ctx, ev)
		}
	}
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.d.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func (h *harness) eventsOf(eventType string) []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []event.Event
	for _, e := range h.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func statuses(a ArtifactState) []ActionStatus {
	out := make([]ActionStatus, 0, len(a.Actions))
	for _, act := range a.Actions {
		out = append(out, act.Status)
	}
	return out
}

func equalStatuses(got, want []ActionStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func chunksOf(parts ...string) <-chan string {
	ch := make(chan string, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return ch
}

const project = `Setting things up.
<boltArtifact id="app" title="Vite app">
<boltAction type="file" filePath="src/main.js">console.log("hi")
</boltAction>
<boltAction type="shell">
  npm install
</boltAction>
<boltAction type="start">npm run dev</boltAction>
</boltArtifact>
Done.`

func TestRun_AppliesActionsInOrder(t *testing.T) {
	h := newHarness(t)

	var wroteBeforeShell bool
	h.fake.ExecFunc = func(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
		_, wroteBeforeShell = h.fake.File("src/main.js")
		return backend.ExecResult{Stdout: "added 1 package\n"}, nil
	}

	if err := h.d.Run(context.Background(), "s1", chunksOf(project[:70], project[70:140], project[140:])); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got, ok := h.fake.File("src/main.js"); !ok || got != "console.log(\"hi\")\n" {
		t.Errorf("src/main.js = %q (exists %v), want %q", got, ok, "console.log(\"hi\")\n")
	}
	if !wroteBeforeShell {
		t.Error("shell action ran before the file was written")
	}

	execs := h.fake.Execs()
	if len(execs) != 1 {
		t.Fatalf("len(Execs()) = %d, want 1", len(execs))
	}
	if execs[0].Command != "npm install" {
		t.Errorf("exec command = %q, want %q", execs[0].Command, "npm install")
	}
	if execs[0].Timeout != time.Minute {
		t.Errorf("exec timeout = %v, want %v", execs[0].Timeout, time.Minute)
	}

	procs := h.fake.Processes()
	if len(procs) != 1 {
		t.Fatalf("len(Processes()) = %d, want 1", len(procs))
	}
	if procs[0].Request().Command != "npm run dev" {
		t.Errorf("spawn command = %q, want %q", procs[0].Request().Command, "npm run dev")
	}

	arts := h.d.Artifacts()
	if len(arts) != 1 {
		t.Fatalf("len(Artifacts()) = %d, want 1", len(arts))
	}
	a := arts[0]
	if a.ID != "app" || a.Title != "Vite app" || !a.Closed || a.Halted {
		t.Errorf("artifact = %+v, want closed app without halt", a)
	}
	want := []ActionStatus{ActionComplete, ActionComplete, ActionComplete}
	if got := statuses(a); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if a.Actions[2].ProcessID != procs[0].ID() {
		t.Errorf("start ProcessID = %q, want %q", a.Actions[2].ProcessID, procs[0].ID())
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", a.Pending())
	}

	completed := h.eventsOf(event.TypeActionCompleted)
	if len(completed) != 3 {
		t.Fatalf("completed events = %d, want 3", len(completed))
	}
	shell := completed[1].(event.ActionCompletedEvent)
	if shell.ActionType != "shell" || shell.Output != "added 1 package\n" {
		t.Errorf("shell completion = %+v", shell)
	}
	if n := h.alerts.Len(); n != 0 {
		t.Errorf("alerts = %v, want none", h.alerts.Alerts())
	}
	if len(h.eventsOf(event.TypeArtifactOpened)) != 1 || len(h.eventsOf(event.TypeArtifactClosed)) != 1 {
		t.Error("expected one artifact opened and one closed event")
	}
}

func TestHandle_ShellFailureHaltsArtifact(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	h.fake.ExecFunc = func(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
		<-release
		return backend.ExecResult{ExitCode: 1, Stderr: "npm ERR! missing script\n"}, nil
	}

	h.feed(t, `<boltArtifact id="a" title="App">`+
		`<boltAction type="shell">npm test</boltAction>`+
		`<boltAction type="file" filePath="queued.txt">q</boltAction>`)
	close(release)
	h.wait(t)
	h.feed(t, `<boltAction type="file" filePath="late.txt">l</boltAction></boltArtifact>`)
	h.wait(t)

	for _, p := range []string{"queued.txt", "late.txt"} {
		if _, ok := h.fake.File(p); ok {
			t.Errorf("%s was written after the artifact halted", p)
		}
	}

	a := h.d.Artifacts()[0]
	if !a.Halted {
		t.Error("artifact not halted")
	}
	want := []ActionStatus{ActionFailed, ActionSkipped, ActionSkipped}
	if got := statuses(a); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if errors.KindOf(a.Actions[0].Err) != errors.KindProcessError {
		t.Errorf("failure kind = %v, want %v", errors.KindOf(a.Actions[0].Err), errors.KindProcessError)
	}

	alerts := h.alerts.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2: %v", len(alerts), alerts)
	}
	if alerts[0].Type != string(errors.KindProcessError) || alerts[0].Source != alert.SourceDispatcher {
		t.Errorf("first alert = %+v", alerts[0])
	}
	if alerts[0].Title != "Command failed: npm test" {
		t.Errorf("first alert title = %q", alerts[0].Title)
	}
	if alerts[0].Content != "npm ERR! missing script\n" {
		t.Errorf("first alert content = %q, want stderr", alerts[0].Content)
	}
	if !strings.Contains(alerts[1].Description, "skipped=1") {
		t.Errorf("halt alert description = %q, want skipped=1", alerts[1].Description)
	}

	halted := h.eventsOf(event.TypeArtifactHalted)
	if len(halted) != 1 {
		t.Fatalf("halted events = %d, want 1", len(halted))
	}
	if e := halted[0].(event.ArtifactHaltedEvent); e.ActionID != "a:0" || e.Skipped != 1 {
		t.Errorf("halted event = %+v, want action a:0 skipped 1", e)
	}
	if n := len(h.eventsOf(event.TypeActionFailed)); n != 1 {
		t.Errorf("failed events = %d, want 1", n)
	}
}

func TestHandle_FileFailureHaltsArtifact(t *testing.T) {
	h := newHarness(t)
	h.fake.FailWrite("locked.txt", errors.NewBackendError(errors.KindPermissionDenied, "write", nil))

	h.feed(t, `<boltArtifact id="a">`+
		`<boltAction type="file" filePath="locked.txt">x</boltAction>`+
		`<boltAction type="shell">echo after</boltAction>`+
		`</boltArtifact>`)
	h.wait(t)

	if n := len(h.fake.Execs()); n != 0 {
		t.Errorf("Execs() = %d, want 0 after failed write", n)
	}
	a := h.d.Artifacts()[0]
	if !a.Halted {
		t.Error("artifact not halted")
	}
	alerts := h.alerts.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].Type != string(errors.KindPermissionDenied) {
		t.Errorf("alert type = %q, want %q", alerts[0].Type, errors.KindPermissionDenied)
	}
	if alerts[0].Title != "Failed to write locked.txt" {
		t.Errorf("alert title = %q", alerts[0].Title)
	}
}

func TestHandle_StartFailureDoesNotHalt(t *testing.T) {
	h := newHarness(t)
	h.fake.SpawnErr = errors.NewProcessError("failed to start process", nil)

	h.feed(t, `<boltArtifact id="a">`+
		`<boltAction type="start">npm run dev</boltAction>`+
		`<boltAction type="file" filePath="after.txt">ok</boltAction>`+
		`</boltArtifact>`)
	h.wait(t)

	if got, ok := h.fake.File("after.txt"); !ok || got != "ok" {
		t.Errorf("after.txt = %q (exists %v), want %q", got, ok, "ok")
	}
	a := h.d.Artifacts()[0]
	if a.Halted {
		t.Error("failed start action halted the artifact")
	}
	want := []ActionStatus{ActionFailed, ActionComplete}
	if got := statuses(a); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if n := h.alerts.Len(); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}
	if n := len(h.eventsOf(event.TypeArtifactHalted)); n != 0 {
		t.Errorf("halted events = %d, want 0", n)
	}
}

func TestHandle_FileStreamIsPreviewOnly(t *testing.T) {
	h := newHarness(t)

	h.feed(t, `<boltArtifact id="a"><boltAction type="file" filePath="index.html">`, "<h1>Hel", "lo</h1>")
	h.wait(t)
	if _, ok := h.fake.File("index.html"); ok {
		t.Fatal("file written before its action closed")
	}

	h.feed(t, "\n</boltAction></boltArtifact>")
	h.wait(t)

	var preview strings.Builder
	for _, e := range h.eventsOf(event.TypeActionPreview) {
		p := e.(event.ActionPreviewEvent)
		if p.FilePath != "index.html" {
			t.Errorf("preview path = %q, want index.html", p.FilePath)
		}
		preview.WriteString(p.Delta)
	}
	if preview.String() != "<h1>Hello</h1>\n" {
		t.Errorf("previews = %q, want %q", preview.String(), "<h1>Hello</h1>\n")
	}
	if got, _ := h.fake.File("index.html"); got != "<h1>Hello</h1>\n" {
		t.Errorf("index.html = %q, want %q", got, "<h1>Hello</h1>\n")
	}
}

func TestHandle_ShellStreamIsNotPreviewed(t *testing.T) {
	h := newHarness(t)
	h.feed(t, `<boltArtifact id="a"><boltAction type="shell">ls -la</boltAction></boltArtifact>`)
	h.wait(t)
	if n := len(h.eventsOf(event.TypeActionPreview)); n != 0 {
		t.Errorf("preview events = %d, want 0", n)
	}
}

func TestHandle_MalformedRaisesParserAlert(t *testing.T) {
	h := newHarness(t)
	h.feed(t, `<boltArtifact id="a"><boltAction>oops</boltAction>`+
		`<boltAction type="file" filePath="ok.txt">fine</boltAction></boltArtifact>`)
	h.wait(t)

	alerts := h.alerts.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Source != alert.SourceParser || alerts[0].Type != string(errors.KindParseMalformed) {
		t.Errorf("alert = %+v, want parser ParseMalformed", alerts[0])
	}
	if _, ok := h.fake.File("ok.txt"); !ok {
		t.Error("valid action after a malformed one did not run")
	}
}

func TestRun_UnterminatedActionIsAborted(t *testing.T) {
	h := newHarness(t)

	err := h.d.Run(context.Background(), "s1", chunksOf(
		`<boltArtifact id="a"><boltAction type="file" filePath="done.txt">1</boltAction>`,
		`<boltAction type="file" filePath="cut.txt">partial`,
	))
	if errors.KindOf(err) != errors.KindParseMalformed {
		t.Fatalf("Run() error = %v, want ParseMalformed", err)
	}

	if _, ok := h.fake.File("cut.txt"); ok {
		t.Error("unterminated file action was written")
	}
	if _, ok := h.fake.File("done.txt"); !ok {
		t.Error("closed action was not written")
	}
	a := h.d.Artifacts()[0]
	want := []ActionStatus{ActionComplete, ActionAborted}
	if got := statuses(a); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	alerts := h.alerts.Alerts()
	if len(alerts) != 1 || alerts[0].Title != "Incomplete action" {
		t.Errorf("alerts = %v, want one incomplete action alert", alerts)
	}
	if h.parser.Streams() != 0 {
		t.Errorf("Streams() = %d, want 0 after finish", h.parser.Streams())
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	chunks := make(chan string, 1)
	chunks <- `<boltArtifact id="a"><boltAction type="file" filePath="x">`

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.d.Run(ctx, "s1", chunks) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if h.parser.Streams() != 0 {
		t.Errorf("Streams() = %d, want 0 after cancel", h.parser.Streams())
	}
}

func TestHandle_ArtifactsAreIndependent(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	h.fake.ExecFunc = func(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
		<-release
		return backend.ExecResult{}, nil
	}

	written := make(chan struct{})
	var once sync.Once
	h.bus.Subscribe(event.TypeActionCompleted, func(e event.Event) {
		if e.(event.ActionCompletedEvent).ArtifactID == "b" {
			once.Do(func() { close(written) })
		}
	})

	h.feed(t,
		`<boltArtifact id="a"><boltAction type="shell">sleep 100</boltAction></boltArtifact>`,
		`<boltArtifact id="b"><boltAction type="file" filePath="b.txt">b</boltAction></boltArtifact>`,
	)

	select {
	case <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("artifact b was blocked behind artifact a")
	}
	close(release)
	h.wait(t)

	if n := len(h.d.Artifacts()); n != 2 {
		t.Errorf("len(Artifacts()) = %d, want 2", n)
	}
}

func TestHandle_PanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.fake.ExecFunc = func(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
		panic("boom")
	}

	h.feed(t, `<boltArtifact id="a"><boltAction type="shell">explode</boltAction></boltArtifact>`)
	h.wait(t)

	a := h.d.Artifacts()[0]
	if a.Actions[0].Status != ActionFailed {
		t.Errorf("status = %v, want %v", a.Actions[0].Status, ActionFailed)
	}
	if !strings.Contains(a.Actions[0].Err.Error(), "panicked") {
		t.Errorf("error = %v, want panic error", a.Actions[0].Err)
	}
	if n := h.alerts.Len(); n != 2 {
		t.Errorf("alerts = %d, want 2", n)
	}
}

func TestWait_RespectsContext(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.fake.ExecFunc = func(ctx context.Context, req backend.ExecRequest) (backend.ExecResult, error) {
		<-release
		return backend.ExecResult{}, nil
	}

	h.feed(t, `<boltArtifact id="a"><boltAction type="shell">slow</boltAction></boltArtifact>`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := h.d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestHandle_FailedProcessRaisesAlert(t *testing.T) {
	h := newHarness(t)
	h.feed(t, `<boltArtifact id="a"><boltAction type="start">node server.js</boltAction></boltArtifact>`)
	h.wait(t)

	procs := h.fake.Processes()
	if len(procs) != 1 {
		t.Fatalf("len(Processes()) = %d, want 1", len(procs))
	}
	procs[0].Exit(3)

	deadline := time.Now().Add(5 * time.Second)
	for h.alerts.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	alerts := h.alerts.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Source != alert.SourceProcess || alerts[0].Type != string(errors.KindProcessError) {
		t.Errorf("alert = %+v, want process ProcessError", alerts[0])
	}
}

func TestHandle_ReopenedArtifactIsTrackedSeparately(t *testing.T) {
	h := newHarness(t)
	doc := `<boltArtifact id="a"><boltAction type="file" filePath="f.txt">v1</boltAction></boltArtifact>`
	h.feed(t, doc)
	h.wait(t)
	h.parser.Reset("s1")
	h.feed(t, strings.Replace(doc, "v1", "v2", 1))
	h.wait(t)

	if got, _ := h.fake.File("f.txt"); got != "v2" {
		t.Errorf("f.txt = %q, want v2", got)
	}
	arts := h.d.Artifacts()
	if len(arts) != 2 {
		t.Fatalf("len(Artifacts()) = %d, want 2", len(arts))
	}
	for i, a := range arts {
		if a.ID != "a" || len(a.Actions) != 1 || a.Actions[0].Status != ActionComplete {
			t.Errorf("Artifacts()[%d] = %+v", i, a)
		}
	}
}

func TestClose_SkipsLaterActions(t *testing.T) {
	h := newHarness(t)
	if err := h.d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	h.feed(t, `<boltArtifact id="a"><boltAction type="file" filePath="x">x</boltAction></boltArtifact>`)
	if _, ok := h.fake.File("x"); ok {
		t.Error("action ran after Close")
	}
	if n := len(h.d.Artifacts()); n != 0 {
		t.Errorf("len(Artifacts()) = %d, want 0", n)
	}
}

func TestRun_TruncatedArtifactDoesNotSwallowNextTurn(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
	}{
		{"new stream", "turn-1", "turn-2"},
		{"same stream", "s1", "s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			err := h.d.Run(ctx, tt.first, chunksOf(
				`<boltArtifact id="app"><boltAction type="file" filePath="a.txt">v1</boltAction>`,
			))
			if errors.KindOf(err) != errors.KindParseMalformed {
				t.Fatalf("first Run() error = %v, want ParseMalformed", err)
			}
			err = h.d.Run(ctx, tt.second, chunksOf(
				`<boltArtifact id="app"><boltAction type="file" filePath="a.txt">v2</boltAction>`+
					`<boltAction type="shell">cat a.txt</boltAction></boltArtifact>`,
			))
			if err != nil {
				t.Fatalf("second Run() error = %v", err)
			}

			if got, _ := h.fake.File("a.txt"); got != "v2" {
				t.Errorf("a.txt = %q, want v2", got)
			}
			if n := len(h.fake.Execs()); n != 1 {
				t.Errorf("execs = %d, want 1", n)
			}
			arts := h.d.Artifacts()
			if len(arts) != 2 {
				t.Fatalf("len(Artifacts()) = %d, want 2", len(arts))
			}
			if !arts[0].Closed || !arts[0].Unterminated {
				t.Errorf("first occurrence = %+v, want closed and unterminated", arts[0])
			}
			if want := []ActionStatus{ActionComplete, ActionComplete}; !equalStatuses(statuses(arts[1]), want) {
				t.Errorf("second occurrence statuses = %v, want %v", statuses(arts[1]), want)
			}
			alerts := h.alerts.Alerts()
			if len(alerts) != 1 || alerts[0].Title != "Incomplete artifact" {
				t.Errorf("alerts = %v, want one incomplete artifact alert", alerts)
			}
		})
	}
}

func TestHandle_SameArtifactIDInConcurrentStreams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	handle := func(stream, chunk string) {
		for _, ev := range h.parser.Feed(stream, chunk) {
			h.d.Handle(ctx, ev)
		}
	}

	handle("s1", `<boltArtifact id="app"><boltAction type="file" filePath="a.txt">from s1`)
	handle("s2", `<boltArtifact id="app"><boltAction type="file" filePath="b.txt">from s2</boltAction></boltArtifact>`)
	handle("s1", `</boltAction></boltArtifact>`)
	h.wait(t)

	for path, want := range map[string]string{"a.txt": "from s1", "b.txt": "from s2"} {
		if got, ok := h.fake.File(path); !ok || got != want {
			t.Errorf("%s = %q (written %v), want %q", path, got, ok, want)
		}
	}
	arts := h.d.Artifacts()
	if len(arts) != 2 {
		t.Fatalf("len(Artifacts()) = %d, want 2", len(arts))
	}
	if arts[0].StreamID != "s1" || arts[1].StreamID != "s2" {
		t.Errorf("streams = %q, %q, want s1, s2", arts[0].StreamID, arts[1].StreamID)
	}
}

func TestRun_UnterminatedArtifactIsClosed(t *testing.T) {
	h := newHarness(t)

	err := h.d.Run(context.Background(), "s1", chunksOf(`<boltArtifact id="a">`))
	if errors.KindOf(err) != errors.KindParseMalformed {
		t.Fatalf("Run() error = %v, want ParseMalformed", err)
	}

	arts := h.d.Artifacts()
	if len(arts) != 1 || !arts[0].Closed || !arts[0].Unterminated {
		t.Fatalf("Artifacts() = %+v, want one closed unterminated artifact", arts)
	}
	alerts := h.alerts.Alerts()
	if len(alerts) != 1 || alerts[0].Source != alert.SourceParser || alerts[0].Title != "Incomplete artifact" {
		t.Errorf("alerts = %+v, want one parser alert", alerts)
	}
	if n := len(h.eventsOf(event.TypeArtifactClosed)); n != 1 {
		t.Errorf("artifact closed events = %d, want 1", n)
	}
}
