package docparse

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>第一段</w:t></w:r></w:p>
    <w:p><w:r><w:t>第二段带</w:t><w:tab/><w:t>制表符</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>甲</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>乙</w:t></w:r></w:p><w:p><w:r><w:t>丙</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
    <w:p><w:r><w:t>表后段落</w:t></w:r></w:p>
  </w:body>
</w:document>`

func writeDocx(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseDOCX(t *testing.T) {
	path := writeDocx(t, sampleDocumentXML)
	text, err := ParseDOCX(path)
	if err != nil {
		t.Fatalf("ParseDOCX: %v", err)
	}
	lines := strings.Split(text, "\n")
	want := []string{
		"第一段",
		"第二段带\t制表符",
		"甲\t乙\t丙",
		"表后段落",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestParseDOCXMissingDocumentPart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, _ := os.Create(path)
	zip.NewWriter(f).Close()
	f.Close()
	if _, err := ParseDOCX(path); err == nil {
		t.Error("docx without document part accepted")
	}
}

func writeXlsx(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", "概算表")
	f.SetSheetRow("概算表", "A1", &[]interface{}{"序号", "名称", "单位", "数量", "单价", "合计", "备注"})
	f.SetSheetRow("概算表", "A2", &[]interface{}{1, "主变压器", "台", 2, 100, 200, "进口"})
	f.NewSheet("清单")
	f.SetSheetRow("清单", "A1", &[]interface{}{"材料", "数量"})
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func TestParseXLSXAllSheets(t *testing.T) {
	path := writeXlsx(t)
	text, err := ParseXLSX(path)
	if err != nil {
		t.Fatalf("ParseXLSX: %v", err)
	}
	if !strings.Contains(text, "=== Sheet: 概算表 ===") || !strings.Contains(text, "=== Sheet: 清单 ===") {
		t.Errorf("sheet headers missing:\n%s", text)
	}
	// The seventh column is beyond the cap.
	if strings.Contains(text, "备注") || strings.Contains(text, "进口") {
		t.Errorf("columns past the cap leaked:\n%s", text)
	}
	if !strings.Contains(text, "序号\t名称\t单位\t数量\t单价\t合计") {
		t.Errorf("rows not tab-joined:\n%s", text)
	}
}

func TestParseXLSXSheet(t *testing.T) {
	path := writeXlsx(t)

	text, err := ParseXLSXSheet(path, "清单", 0)
	if err != nil {
		t.Fatalf("ParseXLSXSheet: %v", err)
	}
	if !strings.Contains(text, "材料\t数量") {
		t.Errorf("sheet content wrong: %q", text)
	}

	_, err = ParseXLSXSheet(path, "不存在", 0)
	if err == nil || !strings.Contains(err.Error(), "概算表") {
		t.Errorf("missing sheet should list available sheets, got %v", err)
	}
}

func TestSheetNames(t *testing.T) {
	names, err := SheetNames(writeXlsx(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "概算表" {
		t.Errorf("names = %v", names)
	}
}

func TestParseFilePlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	os.WriteFile(path, []byte("# 标题\n正文"), 0644)
	text, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if text != "# 标题\n正文" {
		t.Errorf("text = %q", text)
	}
}

func TestParseFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.exe")
	os.WriteFile(path, []byte{0}, 0644)
	if _, err := ParseFile(path); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}
