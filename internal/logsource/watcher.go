package logsource

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DropCallback is invoked once per newly dropped log file. pipelineID is
// the file name without its extension.
type DropCallback func(pipelineID, rawLog string)

// DropWatcher monitors a drop directory and fires the callback for each
// log file that lands there. Writes are debounced so a file being
// streamed in triggers once, after it settles.
type DropWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	callback DropCallback
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	cancel context.CancelFunc
}

// NewDropWatcher creates a watcher over dir. pattern is a filename glob
// such as "*.log"; empty matches everything.
func NewDropWatcher(dir, pattern string, callback DropCallback) (*DropWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &DropWatcher{
		watcher:  watcher,
		dir:      dir,
		pattern:  pattern,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching for dropped files
func (w *DropWatcher) Start(ctx context.Context) {
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
				slog.Warn("log drop watcher", "error", err)
			}
		}
	}()
}

// Stop stops watching
func (w *DropWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *DropWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if w.pattern != "" {
		ok, err := filepath.Match(w.pattern, filepath.Base(event.Name))
		if err != nil || !ok {
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *DropWatcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil {
		return
	}

	for path := range pending {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("reading dropped log", "path", path, "error", err)
			continue
		}
		name := filepath.Base(path)
		pipelineID := strings.TrimSuffix(name, filepath.Ext(name))
		w.callback(pipelineID, string(data))
	}
}
