// Package fileservice provides rooted filesystem operations. Every public
// method takes a path relative to the service root; anything resolving
// outside the root is rejected before touching the disk.
package fileservice

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape is returned when a relative path resolves outside the root.
	ErrPathEscape = errors.New("path escapes service root")
	// ErrNotFound is returned when the target file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrAlreadyExists is returned when a destination exists and overwrite is off.
	ErrAlreadyExists = errors.New("target already exists")
)

// Service performs safe file operations under a single root directory.
// Writes are atomic: content lands in a temp dir first, then renames in.
type Service struct {
	root    string
	tempDir string
	log     *slog.Logger
}

// New creates a Service rooted at rootDir, creating the root and its
// sibling temp dir if needed.
func New(rootDir string) (*Service, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	tempDir := abs + ".tmp"
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	s := &Service{
		root:    abs,
		tempDir: tempDir,
		log:     slog.With("component", "fileservice", "root", abs),
	}
	s.log.Debug("file service ready")
	return s, nil
}

// Root returns the absolute root directory.
func (s *Service) Root() string { return s.root }

// Resolve maps a relative path to an absolute path under the root.
// Absolute inputs and ".." traversal fail with ErrPathEscape.
func (s *Service) Resolve(rel string) (string, error) {
	if rel == "" {
		return s.root, nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscape, rel)
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if !isPathInside(abs, s.root) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	// If an ancestor is a symlink the joined path may still point out of
	// the root; check against the resolved form when it exists.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		rootResolved, rerr := filepath.EvalSymlinks(s.root)
		if rerr == nil && !isPathInside(resolved, rootResolved) {
			return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
		}
	}
	return abs, nil
}

func isPathInside(path, root string) bool {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return relPath == "." || (!strings.HasPrefix(relPath, ".."+string(filepath.Separator)) && relPath != "..")
}

// SaveUpload streams r into the file at rel, atomically. Parent dirs are
// created as needed. Returns the final absolute path.
func (s *Service) SaveUpload(r io.Reader, rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.tempDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	cleanup = false
	s.log.Debug("saved upload", "path", rel)
	return abs, nil
}

// SaveBytes writes content to rel atomically.
func (s *Service) SaveBytes(content []byte, rel string) (string, error) {
	return s.SaveUpload(strings.NewReader(string(content)), rel)
}

// ReadStream opens the file at rel for reading.
func (s *Service) ReadStream(rel string) (io.ReadCloser, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return f, nil
}

// ReadBytes returns the full content of the file at rel.
func (s *Service) ReadBytes(rel string) ([]byte, error) {
	rc, err := s.ReadStream(rel)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// UploadEntry is one file of a multi-file directory upload. SubPath is the
// client-supplied path relative to the destination directory.
type UploadEntry struct {
	SubPath string
	Content io.Reader
}

// SaveDirectoryUpload writes every entry under destRelDir, preserving the
// entries' relative structure. On any failure the already-written files are
// unlinked best-effort and the error is returned.
func (s *Service) SaveDirectoryUpload(entries []UploadEntry, destRelDir string) error {
	if _, err := s.Resolve(destRelDir); err != nil {
		return err
	}
	var written []string
	for _, e := range entries {
		if e.SubPath == "" {
			continue
		}
		rel := filepath.ToSlash(filepath.Join(destRelDir, e.SubPath))
		abs, err := s.SaveUpload(e.Content, rel)
		if err != nil {
			for _, w := range written {
				if rmErr := os.Remove(w); rmErr != nil {
					s.log.Warn("rollback unlink failed", "path", w, "error", rmErr)
				}
			}
			return fmt.Errorf("save %s: %w", rel, err)
		}
		written = append(written, abs)
	}
	s.log.Info("directory upload saved", "dir", destRelDir, "files", len(written))
	return nil
}

// RemoveDirectory deletes the directory at rel recursively. Missing is success.
func (s *Service) RemoveDirectory(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if abs == s.root {
		return fmt.Errorf("%w: refusing to remove root", ErrPathEscape)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// CreateDirectory ensures the directory at rel exists.
func (s *Service) CreateDirectory(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0755)
}

// CreatePlaceholder ensures relDir exists and touches filename inside it.
func (s *Service) CreatePlaceholder(relDir, filename string) error {
	if filename == "" {
		filename = "placeholder.txt"
	}
	abs, err := s.Resolve(filepath.ToSlash(filepath.Join(relDir, filename)))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("touch placeholder: %w", err)
	}
	return f.Close()
}

// FileExists reports whether rel names an existing regular file.
// Invalid paths are reported as absent.
func (s *Service) FileExists(rel string) bool {
	abs, err := s.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// DirectoryExists reports whether rel names an existing directory.
func (s *Service) DirectoryExists(rel string) bool {
	abs, err := s.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}
