package parser

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/boltkit/internal/errors"
)

const scenario = `<boltArtifact id="x" title="T"><boltAction type="file" filePath="a.txt">hello</boltAction></boltArtifact>`

const document = "Intro <b>bold</b> a < b and <boltArt\n" +
	"<boltArtifact title='Demo app' id=\"d1\">\n" +
	"  <boltAction type=\"file\" filePath=\"src/a.js\">const x = 1 < 2;\n</bolt>\n</boltAction>\n" +
	"  <boltAction type=\"shell\">\n    npm install\n  </boltAction>\n" +
	"  <boltAction type=\"bogus\">skip <b>me</b></boltAction>\n" +
	"  <boltAction filePath=\"x\" type=\"start\">npm run dev</boltAction>\n" +
	"</boltArtifact>\n" +
	"Outro <boltArtifact id=\"d2\" title=\"x > y\"><boltAction type=\"file\" filePath=\"b.txt\">partial</boltArtifact> done"

// feedAll feeds chunks into a fresh stream and returns every event,
// including those from Finish.
func feedAll(t *testing.T, p *Parser, stream string, chunks ...string) []Event {
	t.Helper()
	var events []Event
	for _, c := range chunks {
		events = append(events, p.Feed(stream, c)...)
	}
	tail, _ := p.Finish(stream)
	return append(events, tail...)
}

// normalize drops error values, which are not comparable across runs.
func normalize(events []Event) []Event {
	out := make([]Event, len(events))
	for i, ev := range events {
		ev.Err = nil
		out[i] = ev
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestParser_Scenario(t *testing.T) {
	chunks := []string{
		`<boltArtifact id="x" ti`,
		`tle="T"><boltAction type="file" filePath="a.txt">hel`,
		`lo</boltAction></boltArtifact>`,
	}
	p := New(Options{})
	events := Coalesce(feedAll(t, p, "s1", chunks...))

	want := []EventKind{EventArtifactOpen, EventActionOpen, EventActionStream, EventActionClose, EventArtifactClose}
	if got := kinds(events); !slices.Equal(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}

	if a := events[0].Artifact; a.ID != "x" || a.Title != "T" {
		t.Errorf("artifact = %+v", a)
	}
	closing := events[3].Action
	if closing.Type != ActionFile || closing.FilePath != "a.txt" || closing.Content != "hello" || !closing.Final {
		t.Errorf("closed action = %+v", closing)
	}
	if events[2].Text != "hello" {
		t.Errorf("streamed body = %q, want %q", events[2].Text, "hello")
	}
}

func TestParser_Associativity_SingleSplit(t *testing.T) {
	want := normalize(Coalesce(feedAll(t, New(Options{}), "whole", document)))
	for i := 0; i <= len(document); i++ {
		got := normalize(Coalesce(feedAll(t, New(Options{}), "whole", document[:i], document[i:])))
		if !slices.Equal(got, want) {
			t.Fatalf("split at %d:\n got %+v\nwant %+v", i, got, want)
		}
	}
}

func TestParser_Associativity_TwoSplits(t *testing.T) {
	want := normalize(Coalesce(feedAll(t, New(Options{}), "s", scenario)))
	for i := 0; i <= len(scenario); i++ {
		for j := i; j <= len(scenario); j++ {
			got := normalize(Coalesce(feedAll(t, New(Options{}), "s", scenario[:i], scenario[i:j], scenario[j:])))
			if !slices.Equal(got, want) {
				t.Fatalf("splits at %d,%d:\n got %+v\nwant %+v", i, j, got, want)
			}
		}
	}
}

func TestParser_Associativity_ByteAtATime(t *testing.T) {
	want := normalize(Coalesce(feedAll(t, New(Options{}), "s", document)))
	chunks := strings.Split(document, "")
	got := normalize(Coalesce(feedAll(t, New(Options{}), "s", chunks...)))
	if !slices.Equal(got, want) {
		t.Fatalf("byte at a time:\n got %+v\nwant %+v", got, want)
	}
}

func TestParser_NonDeltaEventsIgnoreChunking(t *testing.T) {
	structural := func(events []Event) []Event {
		var out []Event
		for _, ev := range normalize(events) {
			if ev.Kind != EventText && ev.Kind != EventActionStream {
				out = append(out, ev)
			}
		}
		return out
	}
	want := structural(feedAll(t, New(Options{}), "s", document))
	for _, size := range []int{1, 2, 3, 7, 13, 64} {
		var chunks []string
		for i := 0; i < len(document); i += size {
			chunks = append(chunks, document[i:min(i+size, len(document))])
		}
		got := structural(feedAll(t, New(Options{}), "s", chunks...))
		if !slices.Equal(got, want) {
			t.Errorf("chunk size %d:\n got %+v\nwant %+v", size, got, want)
		}
	}
}

func TestParser_Document(t *testing.T) {
	events := Coalesce(feedAll(t, New(Options{}), "s", document))

	var closed []Action
	var texts []string
	var malformed []string
	var unterminated []Action
	for _, ev := range events {
		switch ev.Kind {
		case EventActionClose:
			closed = append(closed, ev.Action)
		case EventText:
			texts = append(texts, ev.Text)
		case EventMalformed:
			malformed = append(malformed, ev.Reason)
			if errors.KindOf(ev.Err) != errors.KindParseMalformed {
				t.Errorf("malformed event error = %v, want ParseMalformed", ev.Err)
			}
		case EventActionUnterminated:
			unterminated = append(unterminated, ev.Action)
		}
	}

	if len(closed) != 3 {
		t.Fatalf("closed actions = %+v, want 3", closed)
	}
	if closed[0].Content != "const x = 1 < 2;\n</bolt>\n" {
		t.Errorf("file content = %q", closed[0].Content)
	}
	if closed[1].Type != ActionShell || closed[1].Content != "npm install" {
		t.Errorf("shell action = %+v", closed[1])
	}
	if closed[2].Type != ActionStart || closed[2].Content != "npm run dev" || closed[2].Index != 2 {
		t.Errorf("start action = %+v", closed[2])
	}
	if closed[0].ID != "d1:0" || closed[1].ID != "d1:1" {
		t.Errorf("action ids = %q, %q", closed[0].ID, closed[1].ID)
	}

	if len(malformed) != 1 || !strings.Contains(malformed[0], "bogus") {
		t.Errorf("malformed = %v", malformed)
	}
	if len(unterminated) != 1 || unterminated[0].FilePath != "b.txt" {
		t.Errorf("unterminated = %+v", unterminated)
	}

	wantTexts := []string{"Intro <b>bold</b> a < b and <boltArt\n", "\nOutro ", " done"}
	if !slices.Equal(texts, wantTexts) {
		t.Errorf("texts = %q, want %q", texts, wantTexts)
	}
}

func TestParser_HoldsPossibleTagPrefix(t *testing.T) {
	p := New(Options{})

	events := p.Feed("s", "hello <bolt")
	if len(events) != 1 || events[0].Text != "hello " {
		t.Fatalf("Feed() = %+v, want only the safe prose", events)
	}

	tail, err := p.Finish("s")
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if len(tail) != 1 || tail[0].Kind != EventText || tail[0].Text != "<bolt" || tail[0].Offset != 6 {
		t.Errorf("Finish() = %+v", tail)
	}
}

func TestParser_StreamDeltaNeverContainsClosePrefix(t *testing.T) {
	p := New(Options{})
	p.Feed("s", `<boltArtifact id="a"><boltAction type="file" filePath="f">`)

	events := p.Feed("s", "abc</boltAc")
	if len(events) != 1 || events[0].Kind != EventActionStream || events[0].Text != "abc" {
		t.Fatalf("Feed() = %+v", events)
	}

	events = p.Feed("s", "tion>")
	if len(events) != 1 || events[0].Kind != EventActionClose || events[0].Action.Content != "abc" {
		t.Errorf("Feed() = %+v", events)
	}
}

func TestParser_PartialTagIsHeldUntilComplete(t *testing.T) {
	p := New(Options{})
	for _, c := range []string{`<boltArtifact id="a" title="1 > 0`, `">`} {
		events := p.Feed("s", c)
		if c == `">` {
			if len(events) != 1 || events[0].Kind != EventArtifactOpen || events[0].Artifact.Title != "1 > 0" {
				t.Errorf("Feed() = %+v", events)
			}
		} else if len(events) != 0 {
			t.Errorf("Feed(%q) = %+v, want nothing until the tag completes", c, events)
		}
	}
}

func TestParser_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
		want   []EventKind
	}{
		{
			name:   "action without type",
			input:  `<boltArtifact id="a"><boltAction filePath="x">body</boltAction></boltArtifact>`,
			reason: "action without type",
			want:   []EventKind{EventArtifactOpen, EventMalformed, EventArtifactClose},
		},
		{
			name:   "unknown type",
			input:  `<boltArtifact id="a"><boltAction type="deploy">x</boltAction><boltAction type="shell">ls</boltAction></boltArtifact>`,
			reason: `unknown action type "deploy"`,
			want:   []EventKind{EventArtifactOpen, EventMalformed, EventActionOpen, EventActionStream, EventActionClose, EventArtifactClose},
		},
		{
			name:   "file without path",
			input:  `<boltArtifact id="a"><boltAction type="file">x</boltAction></boltArtifact>`,
			reason: "file action without filePath",
			want:   []EventKind{EventArtifactOpen, EventMalformed, EventArtifactClose},
		},
		{
			name:   "artifact without id",
			input:  `<boltArtifact title="t"><boltAction type="shell">rm -rf /</boltAction></boltArtifact>after`,
			reason: "artifact without id",
			want:   []EventKind{EventMalformed, EventText},
		},
		{
			name:   "malformed action closed by artifact",
			input:  `<boltArtifact id="a"><boltAction type="x">never</boltArtifact>`,
			reason: `unknown action type "x"`,
			want:   []EventKind{EventArtifactOpen, EventMalformed, EventArtifactClose},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Coalesce(feedAll(t, New(Options{}), "s", tt.input))
			if got := kinds(events); !slices.Equal(got, tt.want) {
				t.Fatalf("kinds = %v, want %v", got, tt.want)
			}
			for _, ev := range events {
				if ev.Kind == EventMalformed && ev.Reason != tt.reason {
					t.Errorf("reason = %q, want %q", ev.Reason, tt.reason)
				}
			}
		})
	}
}

func TestParser_ActionOutsideArtifactIsText(t *testing.T) {
	input := `<boltAction type="shell">ls</boltAction>`
	events := Coalesce(feedAll(t, New(Options{}), "s", input))
	if len(events) != 1 || events[0].Kind != EventText || events[0].Text != input {
		t.Errorf("events = %+v", events)
	}
}

func TestParser_ArtifactCloseInsideAction(t *testing.T) {
	events := Coalesce(feedAll(t, New(Options{}), "s",
		`<boltArtifact id="a"><boltAction type="shell">npm te</boltArtifact>`))
	want := []EventKind{EventArtifactOpen, EventActionOpen, EventActionStream, EventActionUnterminated, EventArtifactClose}
	if got := kinds(events); !slices.Equal(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
}

func TestParser_SelfClosingTags(t *testing.T) {
	events := feedAll(t, New(Options{}), "s",
		`<boltArtifact id="a"><boltAction type="file" filePath="empty.txt"/></boltArtifact><boltArtifact id="b"/>`)
	want := []EventKind{EventArtifactOpen, EventActionOpen, EventActionClose, EventArtifactClose, EventArtifactOpen, EventArtifactClose}
	if got := kinds(events); !slices.Equal(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
	if events[2].Action.Content != "" || !events[2].Action.Final {
		t.Errorf("self-closing action = %+v", events[2].Action)
	}
}

func TestParser_AttributeForms(t *testing.T) {
	events := feedAll(t, New(Options{}), "s",
		"<boltArtifact\n  title='It&apos;s \"quoted\"'\n  extra=1\n  id=app>"+
			`<boltAction filePath='dir/f.txt' type=file>x</boltAction></boltArtifact>`)
	if events[0].Artifact.ID != "app" || events[0].Artifact.Title != `It's "quoted"` {
		t.Errorf("artifact = %+v", events[0].Artifact)
	}
	if a := events[1].Action; a.Type != ActionFile || a.FilePath != "dir/f.txt" {
		t.Errorf("action = %+v", a)
	}
}

func TestParser_TagTooLong(t *testing.T) {
	p := New(Options{MaxTagLength: 32})
	events := Coalesce(feedAll(t, p, "s", `<boltArtifact id="`+strings.Repeat("x", 64)+`">`))
	if len(events) == 0 || events[0].Kind != EventMalformed {
		t.Fatalf("events = %+v, want malformed first", events)
	}
}

func TestParser_FinishUnterminated(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		element string
		last    EventKind
	}{
		{"open action", `<boltArtifact id="a"><boltAction type="file" filePath="f">par`, "boltAction a:0", EventArtifactUnterminated},
		{"open artifact", `<boltArtifact id="a">`, "boltArtifact a", EventArtifactUnterminated},
		{"skipped action", `<boltArtifact id="a"><boltAction type="bogus">x`, "boltArtifact a", EventArtifactUnterminated},
		{"open tag", `<boltArtifact id="a" tit`, "boltArtifact", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Options{})
			events := p.Feed("s", tt.input)
			tail, err := p.Finish("s")
			events = append(events, tail...)

			var pe *errors.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Finish() error = %v, want ParseError", err)
			}
			if pe.Element != tt.element || errors.KindOf(err) != errors.KindParseMalformed {
				t.Errorf("element = %q kind = %v, want %q", pe.Element, errors.KindOf(err), tt.element)
			}
			if tt.last != "" && (len(events) == 0 || events[len(events)-1].Kind != tt.last) {
				t.Errorf("events = %v, want last %s", kinds(events), tt.last)
			}
			if p.Streams() != 0 {
				t.Error("Finish() should clear stream state")
			}
		})
	}
}

func TestParser_ResetIsIdempotent(t *testing.T) {
	p := New(Options{})
	p.Feed("s", `<boltArtifact id="a"><boltAction type="shell">ec`)

	p.Reset("s")
	p.Reset("s")
	p.Reset("never-used")

	events := feedAll(t, p, "s", `plain`)
	if len(events) != 1 || events[0].Kind != EventText || events[0].Offset != 0 {
		t.Errorf("events after reset = %+v", events)
	}
}

func TestParser_CustomTags(t *testing.T) {
	p := New(Options{ArtifactTag: "kitArtifact", ActionTag: "kitAction"})
	events := Coalesce(feedAll(t, p, "s",
		`<boltArtifact id="ignored"></boltArtifact><kitArtifact id="k"><kitAction type="shell">ls</kitAction></kitArtifact>`))
	want := []EventKind{EventText, EventArtifactOpen, EventActionOpen, EventActionStream, EventActionClose, EventArtifactClose}
	if got := kinds(events); !slices.Equal(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
}

func TestParser_StreamsAreIsolated(t *testing.T) {
	p := New(Options{})
	var wg sync.WaitGroup
	results := make([][]Event, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("stream-%d", i)
			var events []Event
			for _, c := range strings.Split(scenario, "") {
				events = append(events, p.Feed(id, c)...)
			}
			results[i] = Coalesce(events)
		}()
	}
	wg.Wait()

	for i, events := range results {
		if len(events) != 5 || events[3].Action.Content != "hello" {
			t.Errorf("stream %d events = %+v", i, events)
		}
		for _, ev := range events {
			if ev.StreamID != fmt.Sprintf("stream-%d", i) {
				t.Errorf("stream %d got event for %s", i, ev.StreamID)
			}
		}
	}
}

func TestCoalesce(t *testing.T) {
	a := Action{ID: "a:0"}
	b := Action{ID: "a:1"}
	events := []Event{
		{Kind: EventText, Text: "x", Offset: 0},
		{Kind: EventText, Text: "y", Offset: 1},
		{Kind: EventActionStream, Action: a, Text: "1"},
		{Kind: EventActionStream, Action: a, Text: "2"},
		{Kind: EventActionStream, Action: b, Text: "3"},
		{Kind: EventActionClose, Action: b},
		{Kind: EventText, Text: "z"},
	}
	got := Coalesce(events)
	if len(got) != 5 {
		t.Fatalf("Coalesce() = %+v", got)
	}
	if got[0].Text != "xy" || got[0].Offset != 0 || got[1].Text != "12" || got[2].Text != "3" {
		t.Errorf("Coalesce() = %+v", got)
	}
}
