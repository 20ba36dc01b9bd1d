package docparse

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ParseDOCX extracts paragraphs and tables in document order from the
// word/document.xml part. Table rows come out tab-joined; newlines inside
// a cell collapse to tabs so each row stays on one line.
func ParseDOCX(filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", filePath, err)
	}
	defer zr.Close()

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document part: %w", err)
			}
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx %s has no document part", filePath)
	}
	defer doc.Close()

	text, err := extractDocumentXML(doc)
	if err != nil {
		return "", fmt.Errorf("parse docx %s: %w", filePath, err)
	}
	return text, nil
}

// extractDocumentXML walks the WordprocessingML token stream. Nesting is
// tracked so paragraphs inside table cells feed the cell, not the body.
func extractDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var out []string

	tableDepth := 0
	var row []string
	var cell strings.Builder
	var para strings.Builder

	flushPara := func() {
		if tableDepth > 0 {
			if cell.Len() > 0 {
				cell.WriteString("\n")
			}
			cell.WriteString(para.String())
		} else {
			out = append(out, para.String())
		}
		para.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tc":
				if tableDepth > 0 {
					cell.Reset()
				}
			case "tr":
				if tableDepth > 0 {
					row = row[:0]
				}
			case "tab":
				para.WriteString("\t")
			case "br":
				para.WriteString("\n")
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", err
				}
				para.WriteString(s)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flushPara()
			case "tc":
				if tableDepth > 0 {
					row = append(row, strings.ReplaceAll(cell.String(), "\n", "\t"))
					cell.Reset()
				}
			case "tr":
				if tableDepth > 0 {
					out = append(out, strings.Join(row, "\t"))
				}
			case "tbl":
				if tableDepth > 0 {
					tableDepth--
				}
			}
		}
	}
	return strings.Join(out, "\n"), nil
}
