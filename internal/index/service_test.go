package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, map[DocType]string) {
	t.Helper()
	roots := map[DocType]string{
		DocTypeProject:    filepath.Join(t.TempDir(), "projects"),
		DocTypeSpec:       filepath.Join(t.TempDir(), "specs"),
		DocTypeManagement: filepath.Join(t.TempDir(), "management"),
	}
	for _, root := range roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			t.Fatal(err)
		}
	}
	store := openTestStore(t)
	return NewService(store, roots, 100*time.Millisecond), roots
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanRootReconciles(t *testing.T) {
	svc, roots := newTestService(t)
	writeFile(t, roots[DocTypeProject], "2024/城东变电站/送审/报告.docx", "v1")
	writeFile(t, roots[DocTypeProject], "2024/城东变电站/过程记录/电气/计算.xlsx", "v1")

	if err := svc.ScanRoot(context.Background(), DocTypeProject); err != nil {
		t.Fatalf("ScanRoot: %v", err)
	}
	rows, err := svc.FindDocuments(Query{DocType: DocTypeProject})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("indexed %d rows, want 2", len(rows))
	}
	if rows[0].ContentHash == "" {
		t.Error("content hash not computed")
	}

	// Delete one file; the next scan drops its row.
	if err := os.Remove(filepath.Join(roots[DocTypeProject], "2024/城东变电站/送审/报告.docx")); err != nil {
		t.Fatal(err)
	}
	if err := svc.ScanRoot(context.Background(), DocTypeProject); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	rows, _ = svc.FindDocuments(Query{DocType: DocTypeProject})
	if len(rows) != 1 {
		t.Errorf("after rescan %d rows, want 1", len(rows))
	}
}

func TestScanSpecSkipsUnindexableExts(t *testing.T) {
	svc, roots := newTestService(t)
	writeFile(t, roots[DocTypeSpec], "电气/GB 50217-2018.pdf", "spec")
	writeFile(t, roots[DocTypeSpec], "电气/doc_md/images/图1.png", "img")
	writeFile(t, roots[DocTypeSpec], "电气/notes.xlsx", "skip me")

	if err := svc.ScanRoot(context.Background(), DocTypeSpec); err != nil {
		t.Fatalf("ScanRoot: %v", err)
	}
	rows, err := svc.FindDocuments(Query{DocType: DocTypeSpec})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("indexed %d rows, want pdf and png only: %+v", len(rows), rows)
	}
}

func TestSpecsByCategory(t *testing.T) {
	svc, roots := newTestService(t)
	writeFile(t, roots[DocTypeSpec], "电气/DLT 866-2015 互感器选择/正文.md", "a")
	writeFile(t, roots[DocTypeSpec], "电气/GB 50217-2018.pdf", "b")
	writeFile(t, roots[DocTypeSpec], "水工/SL 203-97.pdf", "c")

	if err := svc.ScanRoot(context.Background(), DocTypeSpec); err != nil {
		t.Fatal(err)
	}
	docs, err := svc.SpecsByCategory("电气")
	if err != nil {
		t.Fatalf("SpecsByCategory: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs: %v", len(docs), docs)
	}
	if docs["DLT 866-2015 互感器选择"] != "电气/DLT 866-2015 互感器选择/正文.md" {
		t.Errorf("unexpected path map: %v", docs)
	}
	if _, ok := docs["GB 50217-2018"]; !ok {
		t.Errorf("category-level file missing from map: %v", docs)
	}
}

func TestWatcherPicksUpChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("watcher test needs real time")
	}
	svc, roots := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Shutdown()

	writeFile(t, roots[DocTypeProject], "2024/p/送审/新文件.docx", "content")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := svc.Store().Get(DocTypeProject, "2024/p/送审/新文件.docx"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("file never indexed by watcher")
}
