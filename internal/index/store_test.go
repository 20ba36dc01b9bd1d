package index

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUpsert(t *testing.T, s *Store, docType DocType, rel string) {
	t.Helper()
	f := IndexedFile{
		DocType:      docType,
		RelativePath: rel,
		FileName:     filepath.Base(rel),
		Ext:          ExtOf(rel),
		Metadata:     ExtractMetadata(docType, rel),
	}
	if err := s.Upsert(f); err != nil {
		t.Fatalf("Upsert(%s): %v", rel, err)
	}
}

func TestStoreUpsertReplacesByKey(t *testing.T) {
	s := openTestStore(t)
	f := IndexedFile{
		DocType:      DocTypeProject,
		RelativePath: "2024/p/送审/a.docx",
		FileName:     "a.docx",
		Ext:          "docx",
		ContentHash:  "aaa",
		Metadata:     ExtractMetadata(DocTypeProject, "2024/p/送审/a.docx"),
	}
	if err := s.Upsert(f); err != nil {
		t.Fatal(err)
	}
	f.ContentHash = "bbb"
	if err := s.Upsert(f); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(DocTypeProject, "2024/p/送审/a.docx")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContentHash != "bbb" {
		t.Errorf("hash = %q, want replaced value", got.ContentHash)
	}
	if n, err := s.Count(Query{DocType: DocTypeProject}); err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1 row", n, err)
	}
}

func TestStoreFindLikeAndExact(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, DocTypeProject, "2024/城东变电站/送审/报告.docx")
	mustUpsert(t, s, DocTypeProject, "2024/城西开关站/送审/报告.docx")
	mustUpsert(t, s, DocTypeProject, "2023/城东变电站/送审/报告.docx")

	rows, err := s.Find(Query{DocType: DocTypeProject, ProjectName: "%城东%", Year: "2024"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 || rows[0].Metadata.ProjectName != "城东变电站" {
		t.Errorf("LIKE+exact query got %d rows: %+v", len(rows), rows)
	}

	rows, err = s.Find(Query{DocType: DocTypeProject, ProjectName: "城西开关站"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("exact query got %d rows", len(rows))
	}
}

func TestStoreDeleteTree(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, DocTypeProject, "2024/p/送审/a.docx")
	mustUpsert(t, s, DocTypeProject, "2024/p/过程记录/电气/b.docx")
	mustUpsert(t, s, DocTypeProject, "2024/q/送审/c.docx")

	n, err := s.DeleteTree(DocTypeProject, "2024/p")
	if err != nil {
		t.Fatalf("DeleteTree: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
	if _, err := s.Get(DocTypeProject, "2024/q/送审/c.docx"); err != nil {
		t.Errorf("sibling row lost: %v", err)
	}
	if _, err := s.Get(DocTypeProject, "2024/p/送审/a.docx"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("deleted row still present, err = %v", err)
	}
}

func TestStoreDistinctProjects(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, DocTypeProject, "2024/城东变电站/送审/a.docx")
	mustUpsert(t, s, DocTypeProject, "2024/城东变电站/收口/b.docx")
	mustUpsert(t, s, DocTypeProject, "2023/城东变电站/送审/c.docx")

	refs, err := s.DistinctProjects(Query{DocType: DocTypeProject, ProjectName: "%城东%"})
	if err != nil {
		t.Fatalf("DistinctProjects: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs: %+v", len(refs), refs)
	}
}
