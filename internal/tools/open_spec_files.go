package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/haozheli/docchat/internal/docparse"
	"github.com/haozheli/docchat/internal/index"
)

// readAccept is the similarity above which the top specification is read
// outright instead of only listed.
const readAccept = 0.7

// OpenSpecificationFilesTool retrieves specification documents by semantic
// match over document names, optionally reading the best hit.
type OpenSpecificationFilesTool struct {
	env *Env
}

func NewOpenSpecificationFilesTool(env *Env) *OpenSpecificationFilesTool {
	return &OpenSpecificationFilesTool{env: env}
}

func (t *OpenSpecificationFilesTool) Name() string { return "openSpecificationFiles" }

func (t *OpenSpecificationFilesTool) Description() string {
	return "在指定专业分类下检索规范文件。传 /ALL 列出该分类全部规范；readFile 为 true 且匹配度足够时直接读出最相关规范的内容。"
}

func (t *OpenSpecificationFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "检索内容，规范名称或主题；传 /ALL 列出全部",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "专业分类，例如 电气、水工",
			},
			"readFile": map[string]interface{}{
				"type":        "boolean",
				"description": "是否直接读取最匹配规范的内容",
			},
			"topN": map[string]interface{}{
				"type":        "integer",
				"description": "返回候选数量，默认 3",
			},
		},
		"required": []string{"query", "category"},
	}
}

func (t *OpenSpecificationFilesTool) Execute(ctx context.Context, user string, args map[string]interface{}) *Result {
	query := strings.TrimSpace(strArg(args, "query"))
	category := strings.TrimSpace(strArg(args, "category"))
	readFile := boolArg(args, "readFile", false)
	topN := intArg(args, "topN", 3)

	if query == "" || category == "" {
		return JSONResult(SpecFilesResponse{Error: "query 和 category 不能为空"})
	}
	if !t.validCategory(category) {
		return JSONResult(SpecFilesResponse{
			Error: fmt.Sprintf("未知分类 %q", category),
			Hint:  "可用分类: " + strings.Join(t.env.SpecCategories, "、"),
		})
	}

	docs, err := t.env.Index.SpecsByCategory(category)
	if err != nil {
		return JSONResult(SpecFilesResponse{Error: "规范查询失败"}).WithError(err)
	}
	if len(docs) == 0 {
		return JSONResult(SpecFilesResponse{Error: fmt.Sprintf("分类 %q 下没有规范文件", category)})
	}

	if query == "/ALL" {
		all := make([]SpecMatch, 0, len(docs))
		for name, rel := range docs {
			all = append(all, SpecMatch{DocName: name, FilePath: rel})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].DocName < all[j].DocName })
		return JSONResult(SpecFilesResponse{
			Documents: all,
			Hint:      fmt.Sprintf("分类 %s 共 %d 份规范", category, len(all)),
		})
	}

	if t.env.Embeddings == nil || !t.env.EmbeddingsUp {
		return JSONResult(SpecFilesResponse{
			Error: "向量检索服务不可用",
			Hint:  "可以传 /ALL 列出全部规范后按名称选择",
		})
	}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	matches, err := t.env.Embeddings.RankBySimilarity(ctx, query, names, topN)
	if err != nil {
		return JSONResult(SpecFilesResponse{Error: "向量检索失败"}).WithError(err)
	}

	ranked := make([]SpecMatch, len(matches))
	for i, m := range matches {
		ranked[i] = SpecMatch{DocName: m.Text, FilePath: docs[m.Text], Similarity: m.Similarity}
	}

	if readFile && len(ranked) > 0 && ranked[0].Similarity > readAccept {
		return t.readSpec(user, ranked[0])
	}

	return JSONResult(SpecFilesResponse{
		Documents: ranked,
		Hint:      "如需阅读内容，可将 readFile 设为 true 重新调用",
	})
}

func (t *OpenSpecificationFilesTool) readSpec(user string, match SpecMatch) *Result {
	fs := t.env.Files[index.DocTypeSpec]
	abs, err := fs.Resolve(match.FilePath)
	if err != nil {
		return JSONResult(SpecFilesResponse{Error: "规范文件路径无效"}).WithError(err)
	}

	entry := t.env.Sessions.UpdateOpenedFile(user, match.FilePath, true, string(index.DocTypeSpec))
	resp := SpecFilesResponse{
		FilePath:   match.FilePath,
		Similarity: match.Similarity,
	}
	if entry != nil {
		resp.Token = entry.Token
		resp.DownloadURL = DownloadURL(entry.Token, entry.FileName)
	}

	ext := docparse.ExtOf(match.FilePath)
	if ext == "ofd" || ext == "ceb" {
		resp.Hint = "该格式仅支持在线预览，无法提取文本"
		return JSONResult(resp)
	}

	content, err := docparse.ParseFile(abs)
	if err != nil {
		resp.Error = fmt.Sprintf("规范内容读取失败: %v", err)
		return JSONResult(resp).WithError(err)
	}
	resp.Content, resp.Truncated = truncateRunes(content, t.env.ContextWindow)
	if resp.Truncated {
		resp.Hint = "内容超出上下文长度，已截断"
	}
	return JSONResult(resp)
}

func (t *OpenSpecificationFilesTool) validCategory(category string) bool {
	for _, c := range t.env.SpecCategories {
		if c == category {
			return true
		}
	}
	return false
}

// truncateRunes caps s at limit runes; limit <= 0 keeps everything.
func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}
