package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/haozheli/docchat/internal/index"
	"github.com/haozheli/docchat/internal/sessions"
)

type projectSearchRequest struct {
	ProjectName string `json:"project_name"`
	ProjectYear string `json:"project_year,omitempty"`
}

type projectSearchResponse struct {
	Status      string   `json:"status"` // single_project, multiple_projects, no_project_found
	ProjectName string   `json:"project_name,omitempty"`
	Year        string   `json:"year,omitempty"`
	Files       []string `json:"files,omitempty"`
	Candidates  []string `json:"candidates,omitempty"`
}

// handleProjectSearch resolves a project by name for the front-end's
// picker. A single match registers the project as the caller's working
// directory, same as the chat tool does.
func (s *Server) handleProjectSearch(w http.ResponseWriter, r *http.Request) {
	var req projectSearchRequest
	switch r.Method {
	case http.MethodGet:
		req.ProjectName = r.URL.Query().Get("project_name")
		req.ProjectYear = r.URL.Query().Get("project_year")
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req.ProjectName = strings.TrimSpace(req.ProjectName)
	if req.ProjectName == "" {
		http.Error(w, "project_name required", http.StatusBadRequest)
		return
	}

	refs, err := s.deps.Index.Store().DistinctProjects(index.Query{
		DocType: index.DocTypeProject,
		Year:    req.ProjectYear,
	})
	if err != nil {
		http.Error(w, "index error", http.StatusInternalServerError)
		return
	}

	var hits []index.ProjectRef
	for _, ref := range refs {
		if ref.Name == req.ProjectName {
			hits = append(hits, ref)
		}
	}
	if len(hits) == 0 {
		for _, ref := range refs {
			if strings.Contains(ref.Name, req.ProjectName) {
				hits = append(hits, ref)
			}
		}
	}

	switch {
	case len(hits) == 0:
		writeJSON(w, http.StatusOK, projectSearchResponse{Status: "no_project_found"})
	case len(hits) == 1:
		user, _ := sessions.UserFrom(r)
		resp, err := s.registerProject(user, hits[0])
		if err != nil {
			http.Error(w, "index error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		candidates := make([]string, len(hits))
		for i, ref := range hits {
			candidates[i] = ref.Year + "/" + ref.Name
		}
		sort.Strings(candidates)
		writeJSON(w, http.StatusOK, projectSearchResponse{
			Status:     "multiple_projects",
			Candidates: candidates,
		})
	}
}

func (s *Server) registerProject(user string, ref index.ProjectRef) (projectSearchResponse, error) {
	rows, err := s.deps.Index.FindDocuments(index.Query{
		DocType:     index.DocTypeProject,
		Year:        ref.Year,
		ProjectName: ref.Name,
	})
	if err != nil {
		return projectSearchResponse{}, err
	}
	files := make([]string, 0, len(rows))
	for _, row := range rows {
		files = append(files, row.RelativePath)
	}
	sort.Strings(files)

	s.deps.Sessions.UpdateOpenedDir(user, ref.Year+"/"+ref.Name, string(index.DocTypeProject), files)
	return projectSearchResponse{
		Status:      "single_project",
		ProjectName: ref.Name,
		Year:        ref.Year,
		Files:       files,
	}, nil
}
