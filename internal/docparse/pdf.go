package docparse

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParsePDF extracts the text of every page, up to maxPDFPages.
func ParsePDF(filePath string) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", filePath, err)
	}
	defer f.Close()

	pages := r.NumPage()
	truncated := false
	if pages > maxPDFPages {
		pages = maxPDFPages
		truncated = true
	}

	var b strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			// A broken page should not lose the rest of the document.
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&b, "\n[文档超过 %d 页，其余内容已省略]\n", maxPDFPages)
	}
	return b.String(), nil
}
