// Package watcher monitors individual files and reports changes via callbacks.
package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// EventType represents the type of file system event
type EventType int

// File system event types.
const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

// Event represents a change to a watched file
type Event struct {
	Type EventType
	Path string
}

// Callback is a function called when a watched file changes
type Callback func(Event)

// Watcher watches a set of files. Parent directories are watched rather than
// the files themselves so that editors and secret managers replacing the file
// with a rename are still noticed.
type Watcher struct {
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	files     map[string]struct{}
	callbacks []Callback
	mu        sync.RWMutex
	done      chan struct{}
}

// New creates a new file watcher
func New(logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		watcher: w,
		logger:  logger,
		files:   make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching path.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files[abs] = struct{}{}
	w.mu.Unlock()

	return w.watcher.Add(filepath.Dir(abs))
}

// OnChange registers a callback for file change events
func (w *Watcher) OnChange(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins delivering events
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	w.mu.RLock()
	_, watched := w.files[name]
	w.mu.RUnlock()
	if !watched {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventWrite
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		return
	}

	e := Event{
		Type: eventType,
		Path: name,
	}

	w.mu.RLock()
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(e)
	}
}
