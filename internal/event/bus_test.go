package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/boltkit/internal/logging"
)

// record subscribes to topic and appends label:type for every delivery.
func record(bus *Bus, topic, label string, got *[]string) string {
	return bus.Subscribe(topic, func(e Event) {
		*got = append(*got, label+":"+e.EventType())
	})
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received []ArtifactOpenedEvent
	bus.Subscribe(TypeArtifactOpened, func(e Event) {
		if opened, ok := e.(ArtifactOpenedEvent); ok {
			received = append(received, opened)
		}
	})

	bus.Publish(NewArtifactOpenedEvent("turn-1", "todo-app", "Todo App"))
	bus.Publish(NewArtifactClosedEvent("turn-1", "todo-app"))

	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	if got := received[0]; got.StreamID != "turn-1" || got.ArtifactID != "todo-app" || got.Title != "Todo App" {
		t.Errorf("event = %+v", got)
	}
}

func TestBus_DeliveryOrder(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	record(bus, TopicAll, "all", &got)
	record(bus, Category("process"), "category", &got)
	record(bus, TypeProcessExited, "exact-1", &got)
	record(bus, TypeProcessExited, "exact-2", &got)
	record(bus, TypeProcessStarted, "other", &got)

	bus.Publish(NewProcessExitedEvent("p1", "completed", 0))

	want := []string{
		"exact-1:process.exited",
		"exact-2:process.exited",
		"category:process.exited",
		"all:process.exited",
	}
	if !equal(got, want) {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestBus_Category(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	record(bus, Category("action"), "action", &got)

	bus.Publish(NewActionCompletedEvent("a", "a:0", "file"))
	bus.Publish(NewActionFailedEvent("a", "a:1", "shell", nil))
	bus.Publish(NewArtifactHaltedEvent("a", "a:1", 1))
	bus.Publish(NewProcessOutputEvent("p1", "actionable"))

	want := []string{"action:action.completed", "action:action.failed"}
	if !equal(got, want) {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestOn(t *testing.T) {
	bus := NewBus(nil)

	var paths []string
	On(bus, TypeFileChanged, func(e FileChangedEvent) {
		paths = append(paths, e.Path)
	})

	bus.Publish(NewFileChangedEvent("change", "src/a.ts"))
	// A foreign event published under the same name is skipped.
	bus.Publish(newBaseEvent(TypeFileChanged))

	if !equal(paths, []string{"src/a.ts"}) {
		t.Errorf("paths = %v, want [src/a.ts]", paths)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	first := record(bus, "test.event", "first", &got)
	record(bus, "test.event", "second", &got)

	if !bus.Unsubscribe(first) {
		t.Error("Unsubscribe() = false, want true for a live subscription")
	}
	if bus.Unsubscribe(first) {
		t.Error("Unsubscribe() = true, want false for a removed subscription")
	}
	if bus.Unsubscribe("missing") {
		t.Error("Unsubscribe() = true, want false for an unknown id")
	}

	bus.Publish(newBaseEvent("test.event"))
	if !equal(got, []string{"second:test.event"}) {
		t.Errorf("deliveries = %v, want [second:test.event]", got)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	var second string
	bus.Subscribe("test.event", func(e Event) {
		got = append(got, "first")
		bus.Unsubscribe(second)
	})
	second = record(bus, "test.event", "second", &got)

	bus.Publish(newBaseEvent("test.event"))
	bus.Publish(newBaseEvent("test.event"))

	// The in-flight publish still reaches second; the next one does not.
	want := []string{"first", "second:test.event", "first"}
	if !equal(got, want) {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("a", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear, want 0", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf, Level: "debug"})
	if err != nil {
		t.Fatalf("logging.New() error = %v", err)
	}
	bus := NewBus(logger)

	calls := 0
	bus.Subscribe(TypeAlertRaised, func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.SubscribeAll(func(e Event) {
		calls++
	})

	bus.Publish(NewAlertRaisedEvent("NotFound", "t", "d", "c", "backend"))

	if calls != 2 {
		t.Errorf("calls = %d, want 2 despite the panic", calls)
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic should be logged, got %q", buf.String())
	}
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(TypeProcessOutput, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(NewProcessOutputEvent("p1", "chunk"))
		})
		wg.Go(func() {
			id := bus.Subscribe(TypeProcessOutput, func(Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("calls = %d, want 100", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe("test.event", func(e Event) {})
		if ids[id] {
			t.Errorf("duplicate subscription ID: %s", id)
		}
		ids[id] = true
	}
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"artifact closed", NewArtifactClosedEvent("s", "a"), TypeArtifactClosed},
		{"artifact halted", NewArtifactHaltedEvent("a", "a-1", 2), TypeArtifactHalted},
		{"preview", NewActionPreviewEvent("a", "a-0", "x.txt", "hi"), TypeActionPreview},
		{"completed", NewActionCompletedEvent("a", "a-0", "file"), TypeActionCompleted},
		{"failed", NewActionFailedEvent("a", "a-0", "shell", nil), TypeActionFailed},
		{"process started", NewProcessStartedEvent("p1", "npm run dev"), TypeProcessStarted},
		{"process output", NewProcessOutputEvent("p1", "ready"), TypeProcessOutput},
		{"process exited", NewProcessExitedEvent("p1", "completed", 0), TypeProcessExited},
		{"input dropped", NewInputDroppedEvent("p1", 3, nil), TypeInputDropped},
		{"file changed", NewFileChangedEvent("change", "a.txt"), TypeFileChanged},
		{"backend ready", NewBackendReadyEvent("local", "/w"), TypeBackendReady},
		{"alert", NewAlertRaisedEvent("NotFound", "t", "d", "c", "backend"), TypeAlertRaised},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ev.EventType() != tt.want {
				t.Errorf("EventType() = %q, want %q", tt.ev.EventType(), tt.want)
			}
			if tt.ev.Timestamp().IsZero() {
				t.Error("Timestamp() should be set")
			}
		})
	}
}
