// Package docparse turns office documents into plain text for the chat
// loop: PDF and DOCX flatten to lines, spreadsheets to tab-separated rows.
// Output is text for an LLM, not a faithful rendering.
package docparse

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
)

// ErrUnsupported is returned for extensions no parser handles.
var ErrUnsupported = errors.New("unsupported file type")

// maxPDFPages caps PDF extraction; anything longer is truncated.
const maxPDFPages = 500

var plainTextExts = map[string]bool{
	"txt": true, "md": true, "csv": true, "log": true, "json": true,
	"xml": true, "html": true, "htm": true, "yaml": true, "yml": true,
	"ini": true, "conf": true, "py": true, "js": true, "ts": true,
	"go": true, "java": true, "c": true, "cpp": true, "h": true,
	"sql": true, "sh": true, "bat": true,
}

// ExtOf returns the lowercased extension without the dot.
func ExtOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// IsPlainText reports whether ext is read verbatim.
func IsPlainText(ext string) bool { return plainTextExts[ext] }

// ParseFile extracts text from the file at path, dispatching on extension.
func ParseFile(filePath string) (string, error) {
	ext := ExtOf(filePath)
	switch {
	case ext == "pdf":
		return ParsePDF(filePath)
	case ext == "docx":
		return ParseDOCX(filePath)
	case ext == "xlsx":
		return ParseXLSX(filePath)
	case IsPlainText(ext):
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filePath, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: .%s", ErrUnsupported, ext)
	}
}
