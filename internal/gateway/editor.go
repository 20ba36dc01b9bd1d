package gateway

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haozheli/docchat/internal/index"
	"github.com/haozheli/docchat/internal/sessions"
)

// documentFamily maps a file extension to the OnlyOffice editor type.
func documentFamily(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "doc", "docx", "odt", "rtf", "txt":
		return "word"
	case "xls", "xlsx", "ods", "csv":
		return "cell"
	case "ppt", "pptx", "odp":
		return "slide"
	case "pdf":
		return "pdf"
	default:
		return ""
	}
}

var editorPage = template.Must(template.New("editor").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>html,body,#editor{margin:0;padding:0;height:100%;}</style>
</head>
<body>
<div id="editor"></div>
<script src="{{.APIScriptURL}}"></script>
<script>
new DocsAPI.DocEditor("editor", {{.ConfigJSON}});
</script>
</body>
</html>
`))

// handleEditor serves the collaborative editor page for a tokenized file.
func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("filepath")
	token := r.URL.Query().Get("token")
	if filePath == "" || token == "" {
		http.Error(w, "filepath and token required", http.StatusBadRequest)
		return
	}
	info, ok := s.deps.Sessions.GetDownloadableFileInfo(token)
	if !ok || info.RelPath != filePath {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	family := documentFamily(path.Ext(info.FileName))
	if family == "" {
		http.Error(w, "unsupported document type", http.StatusBadRequest)
		return
	}

	user, _ := sessions.UserFrom(r)
	userID, fileKey := s.deps.Sessions.RegisterEditingFile(user, filePath, info.DocType)

	base := strings.TrimRight(s.deps.Config.Editor.PublicBaseURL, "/")
	cfg := map[string]interface{}{
		"documentType": family,
		"document": map[string]interface{}{
			"title":    info.FileName,
			"url":      fmt.Sprintf("%s/download/%s/%s", base, token, url.PathEscape(info.FileName)),
			"fileType": strings.TrimPrefix(path.Ext(info.FileName), "."),
			"key":      fileKey,
		},
		"editorConfig": map[string]interface{}{
			"callbackUrl": base + "/onlyoffice/callback",
			"lang":        "zh-CN",
			"user": map[string]interface{}{
				"id":   userID,
				"name": user,
			},
		},
	}
	if s.deps.Config.Editor.JWTEnable {
		signed, err := signEditorConfig(cfg, s.deps.Config.Editor.JWTSecret)
		if err != nil {
			s.log.Error("editor config signing failed", "error", err)
			http.Error(w, "editor config error", http.StatusInternalServerError)
			return
		}
		cfg["token"] = signed
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		http.Error(w, "editor config error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = editorPage.Execute(w, map[string]interface{}{
		"Title":        info.FileName,
		"APIScriptURL": s.deps.Config.Editor.APIScriptURL,
		"ConfigJSON":   template.JS(cfgJSON),
	})
}

// signEditorConfig signs the whole config object as HS256 claims, the way
// the document server validates it.
func signEditorConfig(cfg map[string]interface{}, secret string) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range cfg {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

type editorCallback struct {
	Key    string `json:"key"`
	Status int    `json:"status"`
	URL    string `json:"url"`
}

// handleEditorCallback receives save notifications from the document
// server. Status 2 (ready for saving) and 6 (forced save) carry the URL of
// the edited result, which replaces the original file atomically.
func (s *Server) handleEditorCallback(w http.ResponseWriter, r *http.Request) {
	var cb editorCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		s.callbackError(w, "bad callback body")
		return
	}

	if cb.Status != 2 && cb.Status != 6 {
		writeJSON(w, http.StatusOK, map[string]int{"error": 0})
		return
	}

	filePath, docType, ok := s.deps.Sessions.GetEditingFile(cb.Key)
	if !ok {
		s.callbackError(w, "unknown file key")
		return
	}
	fs, ok := s.deps.Files[index.DocType(docType)]
	if !ok {
		s.callbackError(w, "unknown document type")
		return
	}
	abs, err := fs.Resolve(filePath)
	if err != nil {
		s.callbackError(w, "invalid path")
		return
	}

	if err := s.downloadEditedFile(cb.URL, abs); err != nil {
		s.log.Error("editor save failed", "path", filePath, "error", err)
		s.callbackError(w, "save failed")
		return
	}
	if cb.Status == 2 {
		s.deps.Sessions.RemoveEditingFile(cb.Key)
	}
	s.log.Info("editor save applied", "path", filePath)
	writeJSON(w, http.StatusOK, map[string]int{"error": 0})
}

// downloadEditedFile fetches url into a sibling tempfile and renames it
// over dest, so readers never observe a half-written document.
func (s *Server) downloadEditedFile(fileURL, dest string) error {
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Get(fileURL)
	if err != nil {
		return fmt.Errorf("fetch edited file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch edited file: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".edit-*")
	if err != nil {
		return fmt.Errorf("create tempfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace target: %w", err)
	}
	return nil
}

func (s *Server) callbackError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"error": 1, "message": msg})
}
