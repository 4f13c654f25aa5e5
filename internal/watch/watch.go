// Package watch watches the host's data files (the host passes the
// extension registry and the IP/UUID ban files) for changes and surfaces
// them to the tick loop as coalesced events on a channel. It never
// reloads anything itself: the tick loop remains the single writer of
// all core state, per the host's concurrency model. The tick loop treats
// any event as a reason to refresh the registry at once; the registry is
// still re-read on its throttled schedule without events, and the ban
// files are read only at startup.
package watch

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a coalesced "this path changed" signal.
type Event struct {
	Path string
}

// Watcher wraps an fsnotify.Watcher, debouncing rapid-fire events per
// path before delivering one Event on Changes.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Changes chan Event
	stopCh  chan struct{}

	debounce map[string]*time.Timer
}

// New creates a watcher for the given paths. Empty paths are skipped
// (not every file is configured in every deployment).
func New(paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := fsw.Add(p); err != nil {
			slog.Warn("watch: could not watch path", "path", p, "err", err)
			continue
		}
	}
	w := &Watcher{
		fsw:      fsw,
		Changes:  make(chan Event, 32),
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := ev.Name
			if t, ok := w.debounce[path]; ok {
				t.Stop()
			}
			w.debounce[path] = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case w.Changes <- Event{Path: path}:
				default:
					// tick loop hasn't drained yet; drop, the next
					// scheduled refresh will pick up the change anyway.
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watch: fsnotify error", "err", err)
		case <-w.stopCh:
			return
		}
	}
}

// Drain removes and returns every pending event without blocking. The
// tick loop calls this once per iteration.
func (w *Watcher) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-w.Changes:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.fsw.Close()
}
