package tools

// BaseResponse is the common tool output shape: content plus an optional
// download capability.
type BaseResponse struct {
	Content     string `json:"content"`
	Token       string `json:"token,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	Hint        string `json:"hint,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ProjectFilesResponse is queryProjectFiles' success shape.
type ProjectFilesResponse struct {
	ProjectName  string   `json:"project_name,omitempty"`
	Year         string   `json:"year,omitempty"`
	ProjectFiles []string `json:"project_files,omitempty"`
	Projects     []string `json:"projects,omitempty"` // /ALL listing or ambiguous candidates
	Hint         string   `json:"hint,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// SpecMatch is one ranked specification document.
type SpecMatch struct {
	DocName    string  `json:"doc_name"`
	FilePath   string  `json:"file_path"`
	Similarity float64 `json:"similarity,omitempty"`
}

// SpecFilesResponse is openSpecificationFiles' shape: either a ranked
// listing or the read content of the top document.
type SpecFilesResponse struct {
	Documents   []SpecMatch `json:"documents,omitempty"`
	Content     string      `json:"content,omitempty"`
	Token       string      `json:"token,omitempty"`
	DownloadURL string      `json:"download_url,omitempty"`
	FilePath    string      `json:"file_path,omitempty"`
	Similarity  float64     `json:"similarity,omitempty"`
	Truncated   bool        `json:"truncated,omitempty"`
	Hint        string      `json:"hint,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// DiffResponse is diffProjectFile's shape: both sides stay downloadable.
type DiffResponse struct {
	Content      string `json:"content"`
	Token1       string `json:"token1,omitempty"`
	Token2       string `json:"token2,omitempty"`
	FilePath1    string `json:"file_path1,omitempty"`
	FilePath2    string `json:"file_path2,omitempty"`
	DownloadURL1 string `json:"download_url1,omitempty"`
	DownloadURL2 string `json:"download_url2,omitempty"`
	Hint         string `json:"hint,omitempty"`
	Error        string `json:"error,omitempty"`
}
