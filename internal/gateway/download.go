package gateway

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"

	"github.com/haozheli/docchat/internal/index"
)

// handleDownload streams a tokenized working file. The token alone is the
// capability; no cookie is required.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	nameInURL := r.PathValue("filename")

	info, ok := s.deps.Sessions.GetDownloadableFileInfo(token)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if decoded, err := url.PathUnescape(nameInURL); err == nil {
		nameInURL = decoded
	}
	if nameInURL != info.FileName {
		// The resolved name wins; the URL one is only cosmetic.
		s.log.Warn("download filename mismatch", "token", token, "url_name", nameInURL, "resolved", info.FileName)
	}

	w.Header().Set("Content-Type", contentTypeFor(info.FileName))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename*=UTF-8''%s", url.PathEscape(info.FileName)))
	http.ServeFile(w, r, info.AbsolutePath)
}

// handleSpecImage resolves a specification image by bare filename through
// the index. Spec markdown references images this way.
func (s *Server) handleSpecImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	rows, err := s.deps.Index.FindDocuments(index.Query{
		DocType:  index.DocTypeSpec,
		FileName: name,
		Limit:    1,
	})
	if err != nil || len(rows) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	fs := s.deps.Files[index.DocTypeSpec]
	abs, err := fs.Resolve(rows[0].RelativePath)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, abs)
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
