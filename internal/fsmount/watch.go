package fsmount

import (
	"context"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// Node-style watch event names.
const (
	EventRename = "rename"
	EventChange = "change"
)

// CompatType collapses a backend change type to the node-style name:
// content changes are "change", everything that adds or removes an entry
// is "rename".
func CompatType(t backend.ChangeType) string {
	if t == backend.ChangeModify {
		return EventChange
	}
	return EventRename
}

// Listener receives node-style watch events. filename is relative to the
// watched path.
type Listener func(eventType, filename string)

// Watch subscribes to changes below path and reports them node-style.
func (m *Mount) Watch(ctx context.Context, path string, opts backend.WatchOptions, fn Listener) (backend.Subscription, error) {
	root, err := m.relative("watch", path)
	if err != nil {
		return nil, err
	}

	sub, err := m.b.Watch(ctx, path, opts, func(ev backend.FileChangeEvent) {
		if m.bus != nil {
			m.bus.Publish(event.NewFileChangedEvent(string(ev.Type), ev.Path))
		}
		name := ev.Path
		if root != "." {
			name = pathutil.Relative("/"+root, "/"+ev.Path)
		}
		fn(CompatType(ev.Type), name)
	})
	if err != nil {
		return nil, statError("watch", path, err)
	}
	m.logger.Debug("watching", "path", root)
	return sub, nil
}
