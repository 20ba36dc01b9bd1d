package tools

import (
	"fmt"
	"net/url"

	"github.com/haozheli/docchat/internal/embeddings"
	"github.com/haozheli/docchat/internal/fileservice"
	"github.com/haozheli/docchat/internal/index"
	"github.com/haozheli/docchat/internal/kb"
	"github.com/haozheli/docchat/internal/sessions"
)

// Env bundles the services every tool draws on, so the registry wiring
// stays one struct instead of six constructor signatures.
type Env struct {
	Sessions *sessions.Manager
	Index    *index.Service
	Files    map[index.DocType]*fileservice.Service

	Embeddings   *embeddings.Client
	EmbeddingsUp bool

	KB *kb.Client

	SpecCategories []string
	ContextWindow  int
	TemplatesDir   string
}

// DownloadURL is the client-facing path for a tokenized file.
func DownloadURL(token, filename string) string {
	return fmt.Sprintf("/download/%s/%s", token, url.PathEscape(filename))
}

// NewRegistryWithTools builds the registry with the full tool set.
func NewRegistryWithTools(env *Env) *Registry {
	r := NewRegistry()
	r.Register(NewQueryProjectFilesTool(env))
	r.Register(NewOpenSpecificationFilesTool(env))
	r.Register(NewReadProjectFileTool(env))
	r.Register(NewDiffProjectFileTool(env))
	r.Register(NewQueryKnowledgeBaseTool(env))
	r.Register(NewWriteReviewDocTool(env))
	return r
}
