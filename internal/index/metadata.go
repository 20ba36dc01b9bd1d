// Package index maintains a queryable store over three watched document
// trees: projects, specifications and management files. Rows are keyed by
// (doc type, relative path) and carry typed metadata derived from the
// path components, never from file contents.
package index

import (
	"encoding/json"
	"path"
	"strings"
)

// DocType identifies which document root a file belongs to.
type DocType string

const (
	DocTypeProject    DocType = "项目文件"
	DocTypeSpec       DocType = "规范文件"
	DocTypeManagement DocType = "管理文件"
)

// Project statuses as encoded in the directory layout.
const (
	StatusForReview = "送审"
	StatusFinal     = "收口"
	StatusRecords   = "过程记录"
)

// Metadata is the typed per-docType payload of an IndexedFile. Exactly the
// fields relevant to the file's DocType are set; the rest stay empty.
type Metadata struct {
	Year        string `json:"year,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	Status      string `json:"status,omitempty"`
	Category    string `json:"category,omitempty"`
	SubCategory string `json:"sub_category,omitempty"`
	DocName     string `json:"doc_name,omitempty"`
}

// JSON returns the denormalized metadata blob stored alongside the
// normalized columns.
func (m Metadata) JSON() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// IndexedFile is one row of the index store.
type IndexedFile struct {
	DocType      DocType  `json:"document_type"`
	RelativePath string   `json:"relative_path"`
	FileName     string   `json:"file_name"`
	Ext          string   `json:"ext"`
	Size         int64    `json:"size"`
	ModifiedTime float64  `json:"modified_time"`
	ContentHash  string   `json:"content_hash"`
	LastScanned  float64  `json:"last_scanned"`
	Metadata     Metadata `json:"-"`
	MetadataJSON string   `json:"metadata"`
}

// ExtOf returns the lowercased extension of name without the leading dot.
func ExtOf(name string) string {
	ext := strings.ToLower(path.Ext(name))
	return strings.TrimPrefix(ext, ".")
}

// ExtractMetadata derives typed metadata from the slash-separated relative
// path of a file under the given doc root.
//
// Layout conventions:
//
//	project:    year/projectName/status[/category[/subCategory]]/...
//	            category levels apply only under the 过程记录 status
//	spec:       category/docName/...
//	management: category/subCategory/...
func ExtractMetadata(docType DocType, relPath string) Metadata {
	parts := strings.Split(path.Clean(filepath2Slash(relPath)), "/")
	var m Metadata

	switch docType {
	case DocTypeProject:
		if len(parts) > 0 {
			m.Year = parts[0]
		}
		if len(parts) > 1 {
			m.ProjectName = parts[1]
		}
		if len(parts) > 2 {
			switch parts[2] {
			case StatusForReview, StatusFinal, StatusRecords:
				m.Status = parts[2]
			}
		}
		if m.Status == StatusRecords {
			if len(parts) > 3 {
				m.Category = parts[3]
			}
			if len(parts) > 4 {
				m.SubCategory = parts[4]
			}
		}
	case DocTypeSpec:
		if len(parts) > 0 {
			m.Category = parts[0]
		}
		// The document name is the second-level directory; a file sitting
		// directly in the category dir names the document by its stem.
		if len(parts) > 1 && isSearchableExt(ExtOf(parts[len(parts)-1])) {
			if len(parts) == 2 {
				name := parts[1]
				m.DocName = strings.TrimSuffix(name, path.Ext(name))
			} else {
				m.DocName = parts[1]
			}
		}
	case DocTypeManagement:
		if len(parts) > 0 {
			m.Category = parts[0]
		}
		if len(parts) > 1 {
			m.SubCategory = parts[1]
		}
	}
	return m
}

func filepath2Slash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

var searchableExts = map[string]bool{
	"pdf": true, "md": true, "docx": true, "txt": true, "ofd": true, "ceb": true,
}

var indexableSpecExts = map[string]bool{
	"pdf": true, "md": true, "docx": true, "txt": true, "ofd": true, "ceb": true,
	"jpeg": true, "jpg": true, "png": true,
}

func isSearchableExt(ext string) bool { return searchableExts[ext] }

// SpecExtIndexable reports whether a spec-root file with this extension
// should be recorded at all.
func SpecExtIndexable(ext string) bool { return indexableSpecExts[ext] }

// IgnoredName reports whether a path component marks a file the watcher
// and scanner skip: dotfiles, editor backups and temp files.
func IgnoredName(name string) bool {
	base := path.Base(filepath2Slash(name))
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return true
	}
	return strings.HasSuffix(base, ".tmp")
}
