package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
)

// watcher delivers native fsnotify events for one subscription. Directories
// are registered recursively and new directories are picked up as they
// appear.
type watcher struct {
	b      *Backend
	fsw    *fsnotify.Watcher
	fn     func(backend.FileChangeEvent)
	ignore []*backend.IgnoreMatcher

	// Host paths of directories currently watched
	dirs map[string]struct{}

	stop       chan struct{}
	done       chan struct{}
	once       sync.Once
	delivering atomic.Bool // fn is running on the loop goroutine
}

// Watch subscribes to changes below path. The callback runs on the watcher
// goroutine, one call per native event. Calling Close from the callback
// stops delivery once the callback returns.
func (b *Backend) Watch(ctx context.Context, path string, opts backend.WatchOptions, fn func(backend.FileChangeEvent)) (backend.Subscription, error) {
	if b.isClosed() {
		return nil, b.closedError("watch")
	}
	rel, err := b.resolve("watch", path)
	if err != nil {
		return nil, err
	}
	extra, err := backend.NewIgnoreMatcher(opts.Ignore)
	if err != nil {
		return nil, errors.NewBackendError(errors.KindUnknown, "watch", err).
			WithPath(rel).
			WithBackend(string(backend.KindLocal)).
			WithRetryable(false)
	}

	host := b.hostPath(rel)
	info, err := os.Stat(host)
	if err != nil {
		return nil, b.fsError("watch", rel, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, b.fsError("watch", rel, err)
	}

	w := &watcher{
		b:      b,
		fsw:    fsw,
		fn:     fn,
		ignore: []*backend.IgnoreMatcher{b.ignore, extra},
		dirs:   make(map[string]struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if info.IsDir() {
		w.addRecursive(host, false)
	} else if err := fsw.Add(host); err != nil {
		_ = fsw.Close()
		return nil, b.fsError("watch", rel, err)
	}

	b.mu.Lock()
	b.watchers[w] = struct{}{}
	b.mu.Unlock()

	go w.loop(ctx)
	return w, nil
}

// Close stops the subscription and waits for the event loop to exit,
// unless a callback is running, which may be the caller itself.
func (w *watcher) Close() error {
	w.once.Do(func() {
		close(w.stop)
	})
	if !w.delivering.Load() {
		<-w.done
	}

	w.b.mu.Lock()
	delete(w.b.watchers, w)
	w.b.mu.Unlock()
	return nil
}

func (w *watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() { _ = w.fsw.Close() }()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.b.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *watcher) ignored(rel string) bool {
	for _, m := range w.ignore {
		if m.Match(rel) {
			return true
		}
	}
	return false
}

func (w *watcher) emit(t backend.ChangeType, host string) {
	select {
	case <-w.stop:
		return
	default:
	}
	rel := w.b.relPath(host)
	if w.ignored(rel) {
		return
	}
	w.delivering.Store(true)
	defer w.delivering.Store(false)
	w.fn(backend.FileChangeEvent{Type: t, Path: rel})
}

func (w *watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			// Already gone again
			return
		}
		if info.IsDir() {
			w.emit(backend.ChangeAddDir, ev.Name)
			w.addRecursive(ev.Name, true)
			return
		}
		w.emit(backend.ChangeAdd, ev.Name)

	case ev.Has(fsnotify.Write):
		w.emit(backend.ChangeModify, ev.Name)

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if _, ok := w.dirs[ev.Name]; ok {
			w.forget(ev.Name)
			w.emit(backend.ChangeUnlinkDir, ev.Name)
			return
		}
		w.emit(backend.ChangeUnlink, ev.Name)
	}
}

// addRecursive registers root and every non-ignored directory below it.
// With announce set, entries already present are reported as created, since
// they may have appeared before the directory was registered.
func (w *watcher) addRecursive(root string, announce bool) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := w.b.relPath(p)
		if p != root && w.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				w.b.logger.Debug("failed to watch directory", "path", rel, "error", err)
				return nil
			}
			w.dirs[p] = struct{}{}
			if announce && p != root {
				w.emit(backend.ChangeAddDir, p)
			}
			return nil
		}
		if announce {
			w.emit(backend.ChangeAdd, p)
		}
		return nil
	})
}

// forget drops a removed directory and its descendants from the watch set.
func (w *watcher) forget(dir string) {
	prefix := dir + string(filepath.Separator)
	for p := range w.dirs {
		if p == dir || strings.HasPrefix(p, prefix) {
			_ = w.fsw.Remove(p)
			delete(w.dirs, p)
		}
	}
}
