package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Service keeps the store in sync with the three document roots: a full
// walk on demand plus a live watcher per root.
type Service struct {
	store    *Store
	roots    map[DocType]string
	cooldown time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a Service over store for the given docType -> absolute
// root directory mapping.
func NewService(store *Store, roots map[DocType]string, cooldown time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &Service{
		store:    store,
		roots:    roots,
		cooldown: cooldown,
		log:      slog.With("component", "index"),
	}
}

// Store exposes the underlying store for read-side queries.
func (s *Service) Store() *Store { return s.store }

// RootOf returns the absolute root directory of docType.
func (s *Service) RootOf(docType DocType) string { return s.roots[docType] }

// Cooldown returns the watcher debounce quiet period.
func (s *Service) Cooldown() time.Duration { return s.cooldown }

// Start optionally rescans all roots, then launches the watchers. The
// watchers stop when ctx is cancelled or Shutdown is called.
func (s *Service) Start(ctx context.Context, rescan bool) error {
	if rescan {
		if err := s.ScanAll(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for docType, root := range s.roots {
		dt := docType
		w, err := NewWatcher(dt, root, s.cooldown,
			func(rel string) {
				if err := s.IndexFile(dt, rel); err != nil {
					s.log.Warn("index file failed", "doc_type", string(dt), "path", rel, "error", err)
				}
			},
			func(rel string) {
				n, err := s.store.DeleteTree(dt, rel)
				if err != nil {
					s.log.Warn("remove from index failed", "doc_type", string(dt), "path", rel, "error", err)
				} else if n > 0 {
					s.log.Info("removed from index", "doc_type", string(dt), "path", rel, "rows", n)
				}
			},
		)
		if err != nil {
			cancel()
			return fmt.Errorf("watch %s root: %w", dt, err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(ctx)
		}()
	}
	s.log.Info("index service started", "roots", len(s.roots), "rescan", rescan)
	return nil
}

// Shutdown stops the watchers and waits for them to exit.
func (s *Service) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// ScanAll walks every root and reconciles the store: new and changed files
// are upserted, rows for vanished files are dropped. Roots are walked
// concurrently; hashing dominates and the store serializes its own writes.
func (s *Service) ScanAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for docType := range s.roots {
		dt := docType
		g.Go(func() error { return s.ScanRoot(ctx, dt) })
	}
	return g.Wait()
}

// ScanRoot walks one root. Every surviving row's last_scanned is bumped;
// rows still carrying an older stamp afterwards belong to deleted files.
func (s *Service) ScanRoot(ctx context.Context, docType DocType) error {
	root, ok := s.roots[docType]
	if !ok {
		return fmt.Errorf("unknown doc type %q", docType)
	}
	start := time.Now()
	cutoff := float64(start.UnixNano()) / float64(time.Second)

	var count int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && IgnoredName(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if IgnoredName(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if err := s.IndexFile(docType, filepath.ToSlash(rel)); err != nil {
			s.log.Warn("index file failed", "doc_type", string(docType), "path", rel, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s root: %w", docType, err)
	}

	stale, err := s.store.StalePaths(docType, cutoff)
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := s.store.Delete(docType, p); err != nil {
			s.log.Warn("drop stale row failed", "path", p, "error", err)
		}
	}

	s.log.Info("scan complete",
		"doc_type", string(docType),
		"files", count,
		"removed", len(stale),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// IndexFile stats, hashes and upserts a single file identified by its
// slash-separated path relative to the docType root. Files the index does
// not track (unindexable spec extensions, ignored names) are skipped.
func (s *Service) IndexFile(docType DocType, rel string) error {
	root, ok := s.roots[docType]
	if !ok {
		return fmt.Errorf("unknown doc type %q", docType)
	}
	if IgnoredName(rel) {
		return nil
	}
	ext := ExtOf(rel)
	if docType == DocTypeSpec && !SpecExtIndexable(ext) {
		return nil
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with a delete; the Remove event cleans up.
			return nil
		}
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil
	}

	hash, err := hashFile(abs)
	if err != nil {
		return fmt.Errorf("hash %s: %w", rel, err)
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	f := IndexedFile{
		DocType:      docType,
		RelativePath: rel,
		FileName:     filepath.Base(rel),
		Ext:          ext,
		Size:         info.Size(),
		ModifiedTime: float64(info.ModTime().UnixNano()) / float64(time.Second),
		ContentHash:  hash,
		LastScanned:  now,
		Metadata:     ExtractMetadata(docType, rel),
	}
	return s.store.Upsert(f)
}

// FindDocuments returns the indexed files matching q.
func (s *Service) FindDocuments(q Query) ([]IndexedFile, error) {
	return s.store.Find(q)
}

// SpecsByCategory maps document names to their relative paths for one
// specification category.
func (s *Service) SpecsByCategory(category string) (map[string]string, error) {
	rows, err := s.store.Find(Query{DocType: DocTypeSpec, Category: category})
	if err != nil {
		return nil, err
	}
	docs := make(map[string]string)
	for _, r := range rows {
		if r.Metadata.DocName == "" || !isSearchableExt(r.Ext) {
			continue
		}
		docs[r.Metadata.DocName] = r.RelativePath
	}
	return docs, nil
}

// hashFile computes the MD5 of the file in 4KB chunks.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, 4096)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
