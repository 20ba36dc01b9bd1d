package tools

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	paragraphRe = regexp.MustCompile(`(?s)<w:p\b[^>]*/>|<w:p\b[^>]*>.*?</w:p>`)
	textRunRe   = regexp.MustCompile(`(?s)<w:t\b[^>]*>(.*?)</w:t>`)
	drawingRe   = regexp.MustCompile(`<w:drawing\b|<w:pict\b|<w:tbl\b`)
)

// stripEmptyParagraphs rewrites the docx at path, dropping body paragraphs
// whose runs render no text. Placeholders filled with empty strings would
// otherwise leave blank lines through the document.
func stripEmptyParagraphs(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open docx: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			zr.Close()
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		if f.Name == "word/document.xml" {
			data = removeEmptyParagraphs(data)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate})
		if err != nil {
			zr.Close()
			return err
		}
		if _, err := w.Write(data); err != nil {
			zr.Close()
			return err
		}
	}
	zr.Close()
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func removeEmptyParagraphs(doc []byte) []byte {
	return paragraphRe.ReplaceAllFunc(doc, func(p []byte) []byte {
		// Paragraphs carrying tables, images or shapes stay regardless
		// of text content.
		if drawingRe.Match(p) {
			return p
		}
		for _, m := range textRunRe.FindAllSubmatch(p, -1) {
			if strings.TrimSpace(string(m[1])) != "" {
				return p
			}
		}
		return nil
	})
}
