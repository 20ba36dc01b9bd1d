package docparse

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxSheetCols bounds the whole-workbook dump; wide cost tables carry
// notes far to the right that only add noise.
const maxSheetCols = 6

// SheetNames lists the worksheets of the workbook at filePath.
func SheetNames(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open xlsx %s: %w", filePath, err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ParseXLSX dumps every sheet, each under a "=== Sheet: name ===" header,
// rows tab-joined and truncated to maxSheetCols columns.
func ParseXLSX(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("open xlsx %s: %w", filePath, err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		fmt.Fprintf(&b, "=== Sheet: %s ===\n", sheet)
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		writeRows(&b, rows, maxSheetCols)
	}
	return b.String(), nil
}

// ParseXLSXSheet extracts a single sheet. maxCols <= 0 keeps every column.
// A miss reports the available sheet names so the caller can prompt a retry.
func ParseXLSXSheet(filePath, sheet string, maxCols int) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("open xlsx %s: %w", filePath, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return "", fmt.Errorf("sheet %q not found, available: %s", sheet, strings.Join(f.GetSheetList(), ", "))
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	var b strings.Builder
	writeRows(&b, rows, maxCols)
	return b.String(), nil
}

func writeRows(b *strings.Builder, rows [][]string, maxCols int) {
	for _, row := range rows {
		if maxCols > 0 && len(row) > maxCols {
			row = row[:maxCols]
		}
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
}
