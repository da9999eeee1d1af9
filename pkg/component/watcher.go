package component

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nodeweave/nodeweave/pkg/telemetry"
)

// settleDelay gives editors and build tools time to finish writing a file
// before it is loaded.
const settleDelay = 200 * time.Millisecond

// Watcher observes a directory of component binaries and keeps the manager
// in sync: new or rewritten .wasm files are (re)loaded, deleted files are
// unloaded.
type Watcher struct {
	manager *Manager
	dir     string
	log     *telemetry.Logger

	watcher *fsnotify.Watcher

	// bySource maps file paths to the component they loaded as.
	bySource map[string]string
}

// NewWatcher creates a watcher over dir. Call Run to start it.
func NewWatcher(manager *Manager, dir string, logger *telemetry.Logger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		manager:  manager,
		dir:      dir,
		log:      logger.NewComponentLogger("component-watcher"),
		watcher:  fsw,
		bySource: make(map[string]string),
	}, nil
}

// Run loads every component already present in the directory, then blocks
// processing filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.loadExisting(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("filesystem watch error")
		}
	}
}

func (w *Watcher) loadExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isComponentFile(entry.Name()) {
			continue
		}
		w.loadFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isComponentFile(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		time.Sleep(settleDelay)
		w.loadFile(ctx, event.Name)

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.unloadFile(ctx, event.Name)
	}
}

// loadFile loads or reloads the component at path. A reload removes the
// previous component for that path first, so graphs referencing the old ID
// fail with NOT_FOUND rather than executing stale bytecode.
func (w *Watcher) loadFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.WithError(err).WithField("path", path).Warn("failed to read component file")
		return
	}

	if oldID, ok := w.bySource[path]; ok {
		if err := w.manager.Remove(ctx, oldID); err != nil {
			w.log.WithError(err).WithComponentID(oldID).Warn("failed to remove stale component")
		}
		delete(w.bySource, path)
	}

	id, err := w.manager.LoadFromSource(ctx, data, path)
	if err != nil {
		w.log.WithError(err).WithField("path", path).Warn("failed to load component file")
		return
	}
	w.bySource[path] = id
	w.log.WithComponentID(id).WithField("path", path).Info("component loaded from directory")
}

func (w *Watcher) unloadFile(ctx context.Context, path string) {
	id, ok := w.bySource[path]
	if !ok {
		return
	}
	delete(w.bySource, path)

	if err := w.manager.Remove(ctx, id); err != nil {
		w.log.WithError(err).WithComponentID(id).Warn("failed to unload component")
		return
	}
	w.log.WithComponentID(id).WithField("path", path).Info("component unloaded")
}

func isComponentFile(name string) bool {
	return strings.HasSuffix(name, ".wasm")
}
