// Package watch re-runs a job whenever its workflow file changes.
package watch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/workflowo/internal/model"
)

// Watcher triggers a callback after a file settles following a change.
type Watcher struct {
	id       string
	path     string
	debounce time.Duration
	logger   *model.Logger
}

// New returns a Watcher for path. Bursts of events closer together than
// debounce trigger a single callback.
func New(path string, debounce time.Duration, logLevel string, logWriter io.Writer) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	id, err := model.GenerateID(model.IDTypeWatch)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		id:       id,
		path:     abs,
		debounce: debounce,
		logger:   model.NewLogger("watch", logLevel, logWriter),
	}, nil
}

// ID identifies the watch session in log lines.
func (w *Watcher) ID() string { return w.id }

// Run calls fn once, then again after every settled change to the file,
// until ctx is done. fn runs on the calling goroutine, so changes made while
// it runs are picked up after it returns.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Log(model.LogLevelInfo, "watching %s session=%s", w.path, w.id)

	fn(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Log(model.LogLevelError, "fsnotify error=%v", err)
		case <-timer.C:
			w.logger.Log(model.LogLevelInfo, "change detected, re-running")
			fn(ctx)
		}
	}
}
