// Package watcher reacts to out-of-band edits in the generated configuration
// directory by requesting a regeneration.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reconciler is the part of the reconciler the watcher drives.
type Reconciler interface {
	Drifted(name string) bool
	Trigger()
}

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher watches one directory for changes to managed files.
type Watcher struct {
	dir        string
	reconciler Reconciler
	logger     zerolog.Logger
}

// New creates a Watcher for dir.
func New(dir string, reconciler Reconciler) *Watcher {
	return &Watcher{
		dir:        dir,
		reconciler: reconciler,
		logger:     log.With().Str("component", "watcher").Str("dir", dir).Logger(),
	}
}

// Run watches until ctx is cancelled. The directory is created if missing so
// the watch can be registered before the first pass publishes anything.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating watched directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info().Msg("Watching generated configuration for drift")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&relevantOps == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !w.reconciler.Drifted(name) {
		return
	}

	w.logger.Info().
		Str("file", name).
		Str("op", event.Op.String()).
		Msg("Managed file changed outside the manager, scheduling regeneration")
	w.reconciler.Trigger()
}
