package gateway

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/haozheli/docchat/internal/fileservice"
	"github.com/haozheli/docchat/internal/index"
	"github.com/haozheli/docchat/internal/sessions"
)

const maxUploadMemory = 64 << 20

// uploadForm describes one upload surface to the front-end.
type uploadForm struct {
	Fields []string `json:"fields"`
	Exists bool     `json:"exists,omitempty"`
}

// handleUploadProject serves the project upload flow: GET checks whether
// `<year>/<project_name>` already exists, POST saves the directory upload
// and seeds the 收口 and 过程文件 placeholder dirs.
func (s *Server) handleUploadProject(w http.ResponseWriter, r *http.Request) {
	fs := s.deps.Files[index.DocTypeProject]

	switch r.Method {
	case http.MethodGet:
		year := r.URL.Query().Get("year")
		name := r.URL.Query().Get("project_name")
		form := uploadForm{Fields: []string{"year", "project_name", "files", "overwrite"}}
		if year != "" && name != "" && fs.DirectoryExists(year+"/"+name) {
			writeJSON(w, http.StatusConflict, uploadForm{Fields: form.Fields, Exists: true})
			return
		}
		writeJSON(w, http.StatusOK, form)

	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}
		year := r.FormValue("year")
		name := r.FormValue("project_name")
		if year == "" || name == "" {
			http.Error(w, "year and project_name required", http.StatusBadRequest)
			return
		}
		destDir := year + "/" + name
		if r.FormValue("overwrite") != "true" && fs.DirectoryExists(destDir) {
			http.Error(w, fmt.Sprintf("项目 '%s' 已存在", destDir), http.StatusConflict)
			return
		}
		// New submissions land in the 送审 stage; the other stages start as
		// placeholders until review output is produced.
		if err := s.saveMultipart(fs, r, destDir+"/送审"); err != nil {
			s.writeUploadError(w, err)
			return
		}
		for _, sub := range []string{"收口", "过程文件"} {
			if err := fs.CreatePlaceholder(destDir+"/"+sub, ""); err != nil {
				s.log.Warn("placeholder create failed", "dir", destDir+"/"+sub, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "directory": destDir})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUploadStandards serves the specification upload flow.
func (s *Server) handleUploadStandards(w http.ResponseWriter, r *http.Request) {
	fs := s.deps.Files[index.DocTypeSpec]

	switch r.Method {
	case http.MethodGet:
		category := r.URL.Query().Get("category")
		docName := r.URL.Query().Get("doc_name")
		form := uploadForm{Fields: []string{"category", "doc_name", "files", "overwrite"}}
		if category != "" && docName != "" && fs.DirectoryExists(category+"/"+docName) {
			writeJSON(w, http.StatusConflict, uploadForm{Fields: form.Fields, Exists: true})
			return
		}
		writeJSON(w, http.StatusOK, form)

	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}
		category := r.FormValue("category")
		docName := r.FormValue("doc_name")
		if category == "" || docName == "" {
			http.Error(w, "category and doc_name required", http.StatusBadRequest)
			return
		}
		destDir := category + "/" + docName
		if err := s.saveMultipart(fs, r, destDir); err != nil {
			s.writeUploadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "directory": destDir})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUploadFiles adds files into an existing project subtree. The
// destination must be at least `<year>/<project>/<stage>` deep. After the
// save, the caller's working directory refreshes once the watcher has had
// time to settle.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	fs := s.deps.Files[index.DocTypeProject]

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, uploadForm{Fields: []string{"target_dir", "files", "overwrite"}})

	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}
		targetDir := strings.Trim(r.FormValue("target_dir"), "/")
		if parts := strings.Split(targetDir, "/"); len(parts) < 3 {
			http.Error(w, "target_dir must be at least year/project/stage", http.StatusBadRequest)
			return
		}
		if err := s.saveMultipart(fs, r, targetDir); err != nil {
			s.writeUploadError(w, err)
			return
		}

		user, _ := sessions.UserFrom(r)
		s.scheduleWorkingDirRefresh(user)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "directory": targetDir})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// saveMultipart writes every uploaded file under destDir, honoring the
// form's overwrite flag against pre-existing files.
func (s *Server) saveMultipart(fs *fileservice.Service, r *http.Request, destDir string) error {
	overwrite := r.FormValue("overwrite") == "true"
	files := collectFileHeaders(r.MultipartForm)
	if len(files) == 0 {
		return fmt.Errorf("%w: no files in form", fileservice.ErrNotFound)
	}

	entries := make([]fileservice.UploadEntry, 0, len(files))
	var open []multipart.File
	defer func() {
		for _, f := range open {
			f.Close()
		}
	}()
	for _, fh := range files {
		sub := uploadSubPath(fh)
		if !overwrite && fs.FileExists(path.Join(destDir, sub)) {
			return fmt.Errorf("%w: %s", fileservice.ErrAlreadyExists, sub)
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("open upload part: %w", err)
		}
		open = append(open, f)
		entries = append(entries, fileservice.UploadEntry{SubPath: sub, Content: f})
	}
	return fs.SaveDirectoryUpload(entries, destDir)
}

func collectFileHeaders(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	var out []*multipart.FileHeader
	for _, headers := range form.File {
		out = append(out, headers...)
	}
	return out
}

// uploadSubPath keeps the client's relative directory structure when the
// browser sent one, otherwise the bare filename.
func uploadSubPath(fh *multipart.FileHeader) string {
	name := fh.Filename
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	return strings.TrimPrefix(cleaned, "/")
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fileservice.ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, fileservice.ErrPathEscape):
		http.Error(w, "invalid path", http.StatusBadRequest)
	default:
		s.log.Error("upload failed", "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
	}
}

// scheduleWorkingDirRefresh re-registers the user's working directory
// after the index watcher has had time to pick the new files up.
func (s *Server) scheduleWorkingDirRefresh(user string) {
	dirPath, ok := s.deps.Sessions.WorkingDirPath(user)
	if !ok {
		return
	}
	delay := 2*s.deps.Index.Cooldown() + time.Second
	time.AfterFunc(delay, func() {
		parts := strings.SplitN(dirPath, "/", 2)
		if len(parts) != 2 {
			return
		}
		rows, err := s.deps.Index.FindDocuments(index.Query{
			DocType:     index.DocTypeProject,
			Year:        parts[0],
			ProjectName: parts[1],
		})
		if err != nil {
			s.log.Warn("working dir refresh failed", "user", user, "error", err)
			return
		}
		files := make([]string, 0, len(rows))
		for _, row := range rows {
			files = append(files, row.RelativePath)
		}
		s.deps.Sessions.UpdateOpenedDir(user, dirPath, string(index.DocTypeProject), files)
	})
}
