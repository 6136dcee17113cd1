package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the catalog file when it changes on disk. Events are
// debounced because editors and config management tools write files in
// several bursts.
type Watcher struct {
	file     string
	debounce time.Duration
	onChange func()
	log      *zap.Logger
}

// NewWatcher watches file and invokes onChange after writes settle.
func NewWatcher(file string, debounce time.Duration, onChange func(), log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{file: file, debounce: debounce, onChange: onChange, log: log}
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file itself so rename-into-place updates are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.file)
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Info("watching catalog file", zap.String("file", w.file))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.file) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("catalog watch error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			w.log.Info("catalog file changed, reloading", zap.String("file", w.file))
			w.onChange()
		}
	}
}
