package fileservice

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DecompressArchive extracts the archive at rel into a sibling directory
// named after the archive (extension stripped). Supported formats are
// .zip, .tar and .tar.gz. If the destination exists and overwrite is
// false, ErrAlreadyExists is returned.
func (s *Service) DecompressArchive(rel string, overwrite bool) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}

	dest := strings.TrimSuffix(abs, filepath.Ext(abs))
	if strings.HasSuffix(dest, ".tar") {
		dest = strings.TrimSuffix(dest, ".tar")
	}
	if _, err := os.Stat(dest); err == nil {
		if !overwrite {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, filepath.Base(dest))
		}
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("clear destination: %w", err)
		}
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}

	lower := strings.ToLower(abs)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(abs, dest)
	case strings.HasSuffix(lower, ".tar"), strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = extractTar(abs, dest)
	default:
		return "", fmt.Errorf("unsupported archive format %q", filepath.Ext(abs))
	}
	if err != nil {
		return "", err
	}
	s.log.Info("archive extracted", "archive", rel, "dest", filepath.Base(dest))
	return dest, nil
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", f.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("mkdir for %s: %w", f.Name, err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		err = writeFileFrom(rc, target)
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractTar(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open tar: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(archive), ".gz") || strings.HasSuffix(strings.ToLower(archive), ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir for %s: %w", hdr.Name, err)
			}
			if err := writeFileFrom(tr, target); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		}
	}
}

// safeJoin rejects archive entries that would land outside dest.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if !isPathInside(target, dest) {
		return "", fmt.Errorf("%w: archive entry %q", ErrPathEscape, name)
	}
	return target, nil
}

func writeFileFrom(r io.Reader, target string) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// BackupDirectory zips the directory at srcRel into destDir (an absolute
// or workspace-relative path outside the root) with a timestamped name.
// Returns the archive path.
func (s *Service) BackupDirectory(srcRel, destDir string) (string, error) {
	src, err := s.Resolve(srcRel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, srcRel)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	archive := filepath.Join(destDir, fmt.Sprintf("backup-%s-%s.zip", filepath.Base(src), stamp))

	out, err := os.Create(archive)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	err = filepath.Walk(src, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if err != nil {
		zw.Close()
		out.Close()
		os.Remove(archive)
		return "", fmt.Errorf("archive %s: %w", srcRel, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	s.log.Info("directory backed up", "src", srcRel, "archive", archive)
	return archive, nil
}
