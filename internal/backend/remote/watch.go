package remote

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/pathutil"
)

// entry is one path in a watch snapshot.
type entry struct {
	dir   bool
	size  int64
	mtime int64
}

// poller watches a remote tree by diffing periodic snapshots. The service
// offers no change notifications, so creations and deletions are both
// reported as rename; size or mtime changes of files are reported as change.
type poller struct {
	b        *Backend
	rel      string
	fn       func(backend.FileChangeEvent)
	ignore   []*backend.IgnoreMatcher
	prune    []string
	interval time.Duration

	prev map[string]entry

	cancel     context.CancelFunc
	done       chan struct{}
	delivering atomic.Bool // fn is running on the loop goroutine
}

// Watch snapshots path now and then every WatchInterval. Close cancels the
// loop and waits for it, so no callback starts after Close returns. Calling
// Close from the callback stops delivery once the callback returns.
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
		return nil, err
	}

	interval := b.opts.WatchInterval
	if opts.PollInterval > 0 {
		interval = opts.PollInterval
	}

	p := &poller{
		b:        b,
		rel:      rel,
		fn:       fn,
		ignore:   []*backend.IgnoreMatcher{b.ignore, extra},
		prune:    pruneNames(append(append([]string(nil), b.opts.Ignore...), opts.Ignore...)),
		interval: interval,
		done:     make(chan struct{}),
	}

	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p.prev = snap

	loopCtx, cancel := context.WithCancel(b.ctx)
	p.cancel = cancel
	stop := context.AfterFunc(ctx, cancel)

	b.mu.Lock()
	b.watchers[p] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer stop()
		p.loop(loopCtx)
	}()
	return p, nil
}

// Close stops the poller and waits for the loop to exit, unless a callback
// is running, which may be the caller itself.
func (p *poller) Close() error {
	p.cancel()
	if !p.delivering.Load() {
		<-p.done
	}

	p.b.mu.Lock()
	delete(p.b.watchers, p)
	p.b.mu.Unlock()
	return nil
}

func (p *poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err := p.snapshot(ctx)
		if errors.KindOf(err) == errors.KindNotFound {
			// The watched tree itself was removed.
			snap, err = map[string]entry{}, nil
		}
		if err != nil {
			if ctx.Err() == nil {
				p.b.logger.Warn("watch snapshot failed", "path", p.rel, "error", err)
			}
			continue
		}

		for _, ev := range diff(p.prev, snap) {
			if ctx.Err() != nil {
				return
			}
			p.delivering.Store(true)
			p.fn(ev)
			p.delivering.Store(false)
		}
		p.prev = snap
	}
}

func (p *poller) ignored(rel string) bool {
	for _, m := range p.ignore {
		if m.Match(rel) {
			return true
		}
	}
	return false
}

// snapshot lists every entry below the watched path with type, size and
// mtime.
func (p *poller) snapshot(ctx context.Context) (map[string]entry, error) {
	q := shellQuote(p.rel)
	var prune string
	if len(p.prune) > 0 {
		names := make([]string, 0, len(p.prune))
		for _, n := range p.prune {
			names = append(names, "-name "+shellQuote(n))
		}
		prune = `\( ` + strings.Join(names, " -o ") + ` \) -prune -o `
	}
	src := fmt.Sprintf(`[ -e %[1]s ] || exit %[2]d; find %[1]s -mindepth 1 %[3]s-exec stat -c '%%F|%%s|%%Y|%%n' {} +`,
		q, exitNotFound, prune)

	out, err := p.b.script(ctx, "watch", p.rel, src)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]entry)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		rel := pathutil.Clean(parts[3])
		if p.ignored(rel) {
			continue
		}
		var size, mtime int64
		_, _ = fmt.Sscan(parts[1], &size)
		_, _ = fmt.Sscan(parts[2], &mtime)
		snap[rel] = entry{dir: typeFromStat(parts[0]) == backend.TypeDir, size: size, mtime: mtime}
	}
	return snap, nil
}

// diff compares two snapshots. Events are sorted by path.
func diff(prev, next map[string]entry) []backend.FileChangeEvent {
	var events []backend.FileChangeEvent
	for path, n := range next {
		o, ok := prev[path]
		switch {
		case !ok:
			events = append(events, backend.FileChangeEvent{Type: backend.ChangeRename, Path: path})
		case o.dir != n.dir:
			events = append(events, backend.FileChangeEvent{Type: backend.ChangeRename, Path: path})
		case !n.dir && (o.size != n.size || o.mtime != n.mtime):
			events = append(events, backend.FileChangeEvent{Type: backend.ChangeModify, Path: path})
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			events = append(events, backend.FileChangeEvent{Type: backend.ChangeRename, Path: path})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

var pruneRe = regexp.MustCompile(`^\*\*/([^*?\[\]{}/\\]+)/\*\*$`)

// pruneNames extracts directory names from "**/name/**" patterns so find can
// skip those subtrees entirely instead of listing and discarding them.
func pruneNames(patterns []string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, pat := range patterns {
		if m := pruneRe.FindStringSubmatch(pat); m != nil && !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
