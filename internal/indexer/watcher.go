package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for events to settle
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-indexes documents as they change on disk and deletes them when
// they disappear. Changes are applied one path at a time.
type Watcher struct {
	indexer  *Indexer
	watcher  *fsnotify.Watcher
	exts     []string
	opts     IndexOptions
	debounce time.Duration
	logger   *slog.Logger

	pending map[string]struct{}
}

// NewWatcher creates a watcher feeding idx. Call Add for each root, then Run.
func NewWatcher(idx *Indexer, exts []string, opts IndexOptions, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		indexer:  idx,
		watcher:  fw,
		exts:     exts,
		opts:     opts,
		debounce: debounce,
		logger:   idx.logger.With("subcomponent", "watcher"),
		pending:  make(map[string]struct{}),
	}, nil
}

// Add watches root and every non-hidden directory below it
func (w *Watcher) Add(root string) error {
	root, err := NormalizePath(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	timer.Stop()
	defer timer.Stop()

	w.logger.Info("file watcher started", "roots", w.watcher.WatchList())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.flush(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleEvent records the event's path for the next flush. It reports whether
// anything was queued.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	// New directories get watched as they appear
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !isHidden(filepath.Base(event.Name)) {
				if err := w.Add(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return false
		}
	}

	if isHidden(filepath.Base(event.Name)) || !MatchesExtension(event.Name, w.exts) {
		return false
	}
	w.pending[event.Name] = struct{}{}
	return true
}

// flush applies every pending path in sorted order
func (w *Watcher) flush(ctx context.Context) {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	clear(w.pending)

	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		w.sync(ctx, p)
	}
}

// sync brings the stored copy of path in line with the file system
func (w *Watcher) sync(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if _, err := w.indexer.DeleteResource(ctx, path); err != nil {
			w.logger.Warn("failed to delete resource", "path", path, "error", err)
		}
		return
	}

	if _, err := w.indexer.IndexDocument(ctx, path, w.opts); err != nil {
		w.logger.Warn("failed to index document", "path", path, "error", err)
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
