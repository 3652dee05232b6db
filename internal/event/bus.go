package event

import (
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/boltkit/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// Topics a subscription can name besides an exact event type.
const (
	// TopicAll matches every event.
	TopicAll = "*"

	// categorySuffix turns "process" into the category topic "process.*".
	categorySuffix = ".*"
)

// Category returns the topic matching every event type in category, e.g.
// Category("process") matches process.started and process.exited.
func Category(category string) string {
	return category + categorySuffix
}

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// rank orders delivery: exact types first, then categories, then TopicAll.
func (s subscription) rank() int {
	switch {
	case s.topic == TopicAll:
		return 2
	case strings.HasSuffix(s.topic, categorySuffix):
		return 1
	}
	return 0
}

func (s subscription) matches(eventType string) bool {
	switch s.rank() {
	case 2:
		return true
	case 1:
		prefix := strings.TrimSuffix(s.topic, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return s.topic == eventType
}

// Bus is a synchronous pub-sub event bus.
// It lets the dispatcher, process manager and hosts communicate without
// direct dependencies.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription // registration order
	logger *logging.Logger
}

// NewBus creates a new event bus. Handler panics are logged to logger;
// a nil logger discards them.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{logger: logging.OrNop(logger)}
}

// Subscribe registers a handler for topic, which is an event type, a
// [Category] or [TopicAll]. It returns an ID for [Bus.Unsubscribe].
func (b *Bus) Subscribe(topic string, handler Handler) string {
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: id, topic: topic, handler: handler})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(TopicAll, handler)
}

// On subscribes fn to events of type eventType whose concrete type is T.
// Events of another concrete type published under the same name are
// skipped.
func On[T Event](b *Bus, eventType string, fn func(T)) string {
	return b.Subscribe(eventType, func(e Event) {
		if ev, ok := e.(T); ok {
			fn(ev)
		}
	})
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			// Copy so an in-flight Publish keeps iterating its own snapshot.
			next := make([]subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers an event to every matching handler on the calling
// goroutine: exact subscriptions first, then categories, then TopicAll,
// each group in registration order. A panicking handler is logged and
// recovered and delivery continues.
func (b *Bus) Publish(event Event) {
	eventType := event.EventType()

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for rank := 0; rank <= 2; rank++ {
		for _, sub := range subs {
			if sub.rank() == rank && sub.matches(eventType) {
				b.safeCall(sub.handler, event)
			}
		}
	}
}

func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
