// Package alert carries user-facing failure reports from the dispatcher and
// backends to whatever surface the host renders them on.
package alert

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
)

// Source identifies the subsystem that raised an alert.
type Source string

const (
	SourceParser     Source = "parser"
	SourceDispatcher Source = "dispatcher"
	SourceBackend    Source = "backend"
	SourceProcess    Source = "process"
)

// Alert is a structured, user-facing failure report.
type Alert struct {
	// Type is the taxonomy kind of the underlying error, e.g. "NotFound".
	Type        string
	Title       string
	Description string
	// Content holds detail such as command output or the failing error text.
	Content string
	Source  Source
}

// String renders the alert on a single line.
func (a Alert) String() string {
	if a.Description == "" {
		return fmt.Sprintf("[%s] %s", a.Type, a.Title)
	}
	return fmt.Sprintf("[%s] %s: %s", a.Type, a.Title, a.Description)
}

// Sink receives alerts. Implementations must be safe for concurrent use.
type Sink interface {
	Raise(Alert)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Alert)

// Raise calls f(a).
func (f SinkFunc) Raise(a Alert) { f(a) }

// Discard drops every alert.
var Discard Sink = SinkFunc(func(Alert) {})

// Multi fans an alert out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(a Alert) {
		for _, s := range sinks {
			if s != nil {
				s.Raise(a)
			}
		}
	})
}

// Collector stores raised alerts in memory.
type Collector struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Raise records a.
func (c *Collector) Raise(a Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

// Alerts returns a copy of every alert raised so far, in order.
func (c *Collector) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

// Len returns the number of alerts raised.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

// Reset discards all recorded alerts.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = nil
}

// BusSink publishes alerts as alert.raised events.
type BusSink struct {
	bus *event.Bus
}

// NewBusSink creates a sink publishing to bus.
func NewBusSink(bus *event.Bus) *BusSink {
	return &BusSink{bus: bus}
}

// Raise publishes a on the bus.
func (s *BusSink) Raise(a Alert) {
	s.bus.Publish(event.NewAlertRaisedEvent(a.Type, a.Title, a.Description, a.Content, string(a.Source)))
}

// FromError builds an alert for err, classifying it with the error taxonomy.
// Process failures carry their captured output as Content.
func FromError(source Source, title string, err error) Alert {
	a := Alert{
		Type:   string(errors.KindOf(err)),
		Title:  title,
		Source: source,
	}
	if err == nil {
		return a
	}

	a.Description = err.Error()

	var pe *errors.ProcessError
	if errors.As(err, &pe) && pe.Output != "" {
		a.Content = pe.Output
	}
	return a
}
