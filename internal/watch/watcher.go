// Package watch reports debounced file changes in a set of directories.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called once per quiet period with every file that
// changed in it, sorted
type ChangeCallback func(changed []string)

// Watcher monitors directories for created or written files
type Watcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration
	exts     map[string]bool // empty accepts every file

	dirs    map[string]struct{}
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// New creates a watcher. Only files with one of exts (e.g. ".png") are
// reported; no exts reports everything.
func New(callback ChangeCallback, exts ...string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond,
		exts:     make(map[string]bool),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}
	for _, ext := range exts {
		w.exts[strings.ToLower(ext)] = true
	}
	return w, nil
}

// Add starts watching dir. A missing directory is created first so that a
// run can be started before any data or checkpoint exists.
func (w *Watcher) Add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.dirs[dir]; exists {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// Remove stops watching dir
func (w *Watcher) Remove(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.dirs[dir]; !exists {
		return
	}
	w.watcher.Remove(dir)
	delete(w.dirs, dir)
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
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
				log.WithError(err).Warn("file watcher error")
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

func (w *Watcher) accepts(name string) bool {
	base := filepath.Base(name)
	// temp files from atomic writes
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(base))]
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.accepts(event.Name) {
		return
	}
	// a rename into place arrives as Create
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil || len(pending) == 0 {
		return
	}
	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	sort.Strings(files)
	w.callback(files)
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}
