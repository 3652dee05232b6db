// Package event provides a pub-sub event bus for decoupled communication
// between the dispatcher, the process manager and whatever host embeds them.
//
// Components publish events without knowing who receives them; hosts (a chat
// surface, a preview pane, the CLI) subscribe without knowing who produces
// them.
//
// # Event Categories
//
// Artifacts:
//   - [ArtifactOpenedEvent], [ArtifactClosedEvent], [ArtifactHaltedEvent]
//
// Actions:
//   - [ActionPreviewEvent]: partial file content for live preview
//   - [ActionCompletedEvent], [ActionFailedEvent]
//
// Processes:
//   - [ProcessStartedEvent], [ProcessOutputEvent], [ProcessExitedEvent]
//   - [InputDroppedEvent]: input that could not be delivered
//
// Backend and alerts:
//   - [FileChangedEvent], [BackendReadyEvent], [AlertRaisedEvent]
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and are protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	event.On(bus, event.TypeActionCompleted, func(e event.ActionCompletedEvent) {
//	    fmt.Println(e.ActionID)
//	})
//
//	// Every process.* event
//	id := bus.Subscribe(event.Category("process"), func(e event.Event) {
//	    logger.Debug("process event", "type", e.EventType())
//	})
//	bus.Unsubscribe(id)
package event
