package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/The-Promised-Neverland/poller/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes at the top level of one directory. Events for the
// same path that arrive within the settle delay collapse into the last one.
type Watcher struct {
	dir    string
	filter FilterConfig
	settle time.Duration

	fs     *fsnotify.Watcher
	events chan FileEvent
	errors chan error

	mu      sync.Mutex
	pending map[string]*time.Timer

	counts   [eventTypeCount]atomic.Int64
	started  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopOnce sync.Once
}

func NewWatcher(dir string, filter FilterConfig, appCtx context.Context) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(appCtx)
	return &Watcher{
		dir:      dir,
		filter:   filter,
		settle:   500 * time.Millisecond,
		fs:       fs,
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		pending:  make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}, nil
}

// Start begins watching the directory
func (w *Watcher) Start() error {
	if err := w.fs.Add(w.dir); err != nil {
		return err
	}
	logger.Log.Info("File watcher started", "path", w.dir)
	w.started.Store(true)
	go w.loop()
	return nil
}

// Stop releases the fsnotify handle and drops events still settling.
// Safe to call more than once, and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.fs.Close()
		if w.started.Load() {
			<-w.loopDone
		}
		w.mu.Lock()
		for _, t := range w.pending {
			t.Stop()
		}
		w.pending = nil
		w.mu.Unlock()
		logger.Log.Info("File watcher stopped")
	})
}

func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Done is closed once Stop has been called or the parent context ends.
func (w *Watcher) Done() <-chan struct{} {
	return w.ctx.Done()
}

// Count returns how many events of type t have been reported so far.
func (w *Watcher) Count(t EventType) int64 {
	if i, ok := t.index(); ok {
		return w.counts[i].Load()
	}
	return 0
}

func (w *Watcher) loop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if t, ok := classify(ev); ok && w.filter.ShouldProcess(ev.Name) {
				w.settleEvent(t, ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				logger.Log.Error("Error channel full, dropping error", "err", err)
			}
		}
	}
}

// classify maps an fsnotify op to the event reported for it. Chmod alone is
// not reported.
func classify(ev fsnotify.Event) (EventType, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventCreate, true
	case ev.Has(fsnotify.Write):
		return EventWrite, true
	case ev.Has(fsnotify.Remove):
		return EventRemove, true
	case ev.Has(fsnotify.Rename):
		return EventRename, true
	}
	return "", false
}

// settleEvent (re)arms the timer for path so only the latest type is emitted.
func (w *Watcher) settleEvent(t EventType, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return
	}
	if prev, ok := w.pending[path]; ok {
		prev.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.emit(t, path) })
}

func (w *Watcher) emit(t EventType, path string) {
	w.mu.Lock()
	if w.pending == nil {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	if i, ok := t.index(); ok {
		w.counts[i].Add(1)
	}
	select {
	case w.events <- FileEvent{Type: t, Path: path, Timestamp: time.Now()}:
	case <-w.ctx.Done():
	default:
		logger.Log.Warn("Events channel full, dropping event", "path", path)
	}
}
