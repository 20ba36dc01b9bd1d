package fileservice

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "root"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestResolveRejectsEscapes(t *testing.T) {
	s := newService(t)
	cases := []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
	}
	for _, rel := range cases {
		t.Run(rel, func(t *testing.T) {
			if _, err := s.Resolve(rel); !errors.Is(err, ErrPathEscape) {
				t.Errorf("Resolve(%q) err = %v, want ErrPathEscape", rel, err)
			}
		})
	}
	if _, err := s.Resolve("2024/proj/report.pdf"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}
}

func TestSaveUploadAtomic(t *testing.T) {
	s := newService(t)
	abs, err := s.SaveUpload(strings.NewReader("hello"), "a/b/c.txt")
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
	// No stray temp files remain.
	entries, _ := os.ReadDir(s.tempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir not clean: %d entries", len(entries))
	}
}

func TestReadStreamMissing(t *testing.T) {
	s := newService(t)
	if _, err := s.ReadStream("missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveDirectoryUploadRollsBack(t *testing.T) {
	s := newService(t)
	entries := []UploadEntry{
		{SubPath: "one.txt", Content: strings.NewReader("1")},
		{SubPath: "../../escape.txt", Content: strings.NewReader("2")},
	}
	if err := s.SaveDirectoryUpload(entries, "dest"); err == nil {
		t.Fatal("expected error for escaping entry")
	}
	if s.FileExists("dest/one.txt") {
		t.Error("first file should have been rolled back")
	}
}

func TestRemoveDirectoryIdempotent(t *testing.T) {
	s := newService(t)
	if err := s.CreatePlaceholder("d/sub", ""); err != nil {
		t.Fatal(err)
	}
	if !s.FileExists("d/sub/placeholder.txt") {
		t.Fatal("placeholder missing")
	}
	if err := s.RemoveDirectory("d"); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if err := s.RemoveDirectory("d"); err != nil {
		t.Errorf("second remove should succeed: %v", err)
	}
}

func TestDecompressArchive(t *testing.T) {
	s := newService(t)

	// Build a small zip in place.
	abs, err := s.Resolve("bundle.zip")
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(abs)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("inner/file.txt")
	w.Write([]byte("payload"))
	zw.Close()
	f.Close()

	dest, err := s.DecompressArchive("bundle.zip", false)
	if err != nil {
		t.Fatalf("DecompressArchive: %v", err)
	}
	if filepath.Base(dest) != "bundle" {
		t.Errorf("dest = %q", dest)
	}
	if !s.FileExists("bundle/inner/file.txt") {
		t.Error("extracted file missing")
	}

	if _, err := s.DecompressArchive("bundle.zip", false); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second extract err = %v, want ErrAlreadyExists", err)
	}
	if _, err := s.DecompressArchive("bundle.zip", true); err != nil {
		t.Errorf("overwrite extract failed: %v", err)
	}
}

func TestBackupDirectory(t *testing.T) {
	s := newService(t)
	if _, err := s.SaveBytes([]byte("x"), "proj/a.txt"); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()
	archive, err := s.BackupDirectory("proj", dest)
	if err != nil {
		t.Fatalf("BackupDirectory: %v", err)
	}
	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != "a.txt" {
		t.Errorf("unexpected archive contents: %+v", zr.File)
	}
}
