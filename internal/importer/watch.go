package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "dashpulse/pkg/logx"
)

const DefaultDebounce = 250 * time.Millisecond

type WatchOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a re-import.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReportHook is called after every re-import.
func WithReportHook(fn func(Report, error)) WatchOption {
	return func(w *Watcher) { w.hook = fn }
}

// Watcher re-imports a file whenever it changes.
type Watcher struct {
	path     string
	store    Store
	log      logx.Logger
	debounce time.Duration
	hook     func(Report, error)
}

func NewWatcher(path string, store Store, log logx.Logger, opts ...WatchOption) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Watcher{path: path, store: store, log: log, debounce: DefaultDebounce}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Watch blocks until ctx is done. The parent directory is watched so that
// editors which replace the file by rename are seen too.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	name := filepath.Clean(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("importer watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("importer watch %s: %w", dir, err)
	}
	w.log.Info("watching import file", logx.String("path", w.path))

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("import watch error", logx.Err(err))
		case <-fire:
			w.reimport(ctx)
		}
	}
}

func (w *Watcher) reimport(ctx context.Context) {
	rep, err := ImportFile(ctx, w.store, w.path, false)
	switch {
	case err != nil:
		w.log.Warn("re-import failed", logx.String("path", w.path), logx.Err(err))
	case rep.Err() != nil:
		w.log.Warn("re-import partially failed",
			logx.String("path", w.path),
			logx.Int("targets_created", rep.TargetsCreated),
			logx.Int("failures", len(rep.Failures)),
			logx.Err(rep.Err()),
		)
	default:
		w.log.Info("re-imported targets",
			logx.String("path", w.path),
			logx.Int("targets_created", rep.TargetsCreated),
			logx.Int("items_created", rep.ItemsCreated),
		)
	}
	if w.hook != nil {
		w.hook(rep, err)
	}
}
