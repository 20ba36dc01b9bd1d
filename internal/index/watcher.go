package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows one document root recursively and reports settled file
// changes. fsnotify does not watch subtrees, so every directory gets its
// own watch, added as directories appear.
//
// Writes are debounced: a path is reported only after no event has touched
// it for a full cooldown, so half-copied files are not indexed mid-write.
// Deletes are reported immediately.
type Watcher struct {
	docType  DocType
	root     string
	cooldown time.Duration

	onSettled func(relPath string)
	onRemoved func(relPath string)

	fsw *fsnotify.Watcher
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a watcher over root. onSettled receives the relative
// path of each created or modified file once it has settled; onRemoved
// receives the relative path of each removed or renamed-away entry.
func NewWatcher(docType DocType, root string, cooldown time.Duration, onSettled, onRemoved func(relPath string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	w := &Watcher{
		docType:   docType,
		root:      root,
		cooldown:  cooldown,
		onSettled: onSettled,
		onRemoved: onRemoved,
		fsw:       fsw,
		log:       slog.With("component", "index.watcher", "doc_type", string(docType)),
		pending:   make(map[string]time.Time),
	}
	if err := w.watchTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && IgnoredName(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cooldown)
	defer ticker.Stop()
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-ticker.C:
			w.drain()
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)
	if IgnoredName(ev.Name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		// The entry is gone; drop any pending write and report at once.
		// The store removes whole subtrees since children emit no events.
		w.mu.Lock()
		delete(w.pending, rel)
		w.mu.Unlock()
		w.onRemoved(rel)

	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// A directory moved in arrives as one Create; watch it and
			// pick up everything already inside.
			if err := w.watchTree(ev.Name); err != nil {
				w.log.Warn("watch new directory failed", "path", rel, "error", err)
			}
			w.markTree(ev.Name)
			return
		}
		w.mark(rel)

	case ev.Op.Has(fsnotify.Write):
		w.mark(rel)
	}
}

func (w *Watcher) mark(rel string) {
	w.mu.Lock()
	w.pending[rel] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) markTree(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && IgnoredName(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if IgnoredName(path) {
			return nil
		}
		if rel, err := filepath.Rel(w.root, path); err == nil {
			w.mark(filepath.ToSlash(rel))
		}
		return nil
	})
}

func (w *Watcher) drain() {
	now := time.Now()
	var ready []string
	w.mu.Lock()
	for rel, last := range w.pending {
		if now.Sub(last) >= w.cooldown {
			ready = append(ready, rel)
			delete(w.pending, rel)
		}
	}
	w.mu.Unlock()

	for _, rel := range ready {
		w.onSettled(rel)
	}
}
