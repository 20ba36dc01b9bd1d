package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/haozheli/docchat/internal/index"
)

// similarityAccept is the score above which a fuzzy project-name match is
// taken without asking the user.
const similarityAccept = 0.8

// QueryProjectFilesTool resolves a project by name (exact, substring, then
// embedding similarity) and registers its file tree as the user's working
// directory.
type QueryProjectFilesTool struct {
	env *Env
}

func NewQueryProjectFilesTool(env *Env) *QueryProjectFilesTool {
	return &QueryProjectFilesTool{env: env}
}

func (t *QueryProjectFilesTool) Name() string { return "queryProjectFiles" }

func (t *QueryProjectFilesTool) Description() string {
	return "查询评审项目的文件列表。传入项目名称(可模糊)和可选年份；传入 /ALL 列出所有项目。成功后项目文件会登记为当前工作目录。"
}

func (t *QueryProjectFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"projectName": map[string]interface{}{
				"type":        "string",
				"description": "项目名称，支持模糊匹配；传 /ALL 列出全部项目",
			},
			"year": map[string]interface{}{
				"type":        "string",
				"description": "项目年份，可选",
			},
		},
		"required": []string{"projectName"},
	}
}

func (t *QueryProjectFilesTool) Execute(ctx context.Context, user string, args map[string]interface{}) *Result {
	projectName := strings.TrimSpace(strArg(args, "projectName"))
	year := strings.TrimSpace(strArg(args, "year"))
	if projectName == "" {
		return JSONResult(ProjectFilesResponse{Error: "projectName 不能为空"})
	}

	refs, err := t.env.Index.Store().DistinctProjects(index.Query{
		DocType: index.DocTypeProject,
		Year:    year,
	})
	if err != nil {
		return JSONResult(ProjectFilesResponse{Error: "项目查询失败"}).WithError(err)
	}
	if len(refs) == 0 {
		return JSONResult(ProjectFilesResponse{Error: "没有找到任何项目", Hint: "请确认年份是否正确"})
	}

	if projectName == "/ALL" {
		return JSONResult(ProjectFilesResponse{
			Projects: labelRefs(refs),
			Hint:     fmt.Sprintf("共 %d 个项目", len(refs)),
		})
	}

	ref, ambiguous, err := t.resolve(ctx, projectName, refs)
	if err != nil {
		return JSONResult(ProjectFilesResponse{Error: "项目名称匹配失败"}).WithError(err)
	}
	if len(ambiguous) > 0 {
		return JSONResult(ProjectFilesResponse{
			Projects: ambiguous,
			Hint:     "找到多个可能的项目，请用户确认具体指哪一个",
		})
	}
	if ref == nil {
		return JSONResult(ProjectFilesResponse{
			Error: fmt.Sprintf("没有找到与 %q 匹配的项目", projectName),
			Hint:  "可以传 /ALL 查看全部项目",
		})
	}

	files, err := t.env.Index.FindDocuments(index.Query{
		DocType:     index.DocTypeProject,
		Year:        ref.Year,
		ProjectName: ref.Name,
	})
	if err != nil {
		return JSONResult(ProjectFilesResponse{Error: "项目文件查询失败"}).WithError(err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.RelativePath)
	}
	sort.Strings(paths)

	dirPath := ref.Year + "/" + ref.Name
	t.env.Sessions.UpdateOpenedDir(user, dirPath, string(index.DocTypeProject), paths)

	return JSONResult(ProjectFilesResponse{
		ProjectName:  ref.Name,
		Year:         ref.Year,
		ProjectFiles: paths,
		Hint:         "项目文件已登记为当前工作目录，可用 readProjectFile 阅读具体文件",
	})
}

// resolve picks one project: exact name, then unique substring, then
// embedding similarity. A short candidate list comes back when the match
// stays ambiguous.
func (t *QueryProjectFilesTool) resolve(ctx context.Context, projectName string, refs []index.ProjectRef) (*index.ProjectRef, []string, error) {
	var exact []index.ProjectRef
	for _, r := range refs {
		if r.Name == projectName {
			exact = append(exact, r)
		}
	}
	if len(exact) == 1 {
		return &exact[0], nil, nil
	}
	if len(exact) > 1 {
		// Same name across years needs the year parameter.
		return nil, labelRefs(exact), nil
	}

	var subs []index.ProjectRef
	for _, r := range refs {
		if strings.Contains(r.Name, projectName) {
			subs = append(subs, r)
		}
	}
	if len(subs) == 1 {
		return &subs[0], nil, nil
	}

	pool := subs
	if len(pool) == 0 {
		pool = refs
	}
	if t.env.Embeddings == nil || !t.env.EmbeddingsUp {
		if len(subs) > 1 {
			return nil, labelRefs(subs), nil
		}
		return nil, nil, nil
	}

	names := make([]string, len(pool))
	byName := make(map[string]index.ProjectRef, len(pool))
	for i, r := range pool {
		names[i] = r.Name
		byName[r.Name] = r
	}
	matches, err := t.env.Embeddings.RankBySimilarity(ctx, projectName, names, 3)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) > 0 && matches[0].Similarity > similarityAccept {
		r := byName[matches[0].Text]
		return &r, nil, nil
	}

	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		r := byName[m.Text]
		labels = append(labels, fmt.Sprintf("%s/%s", r.Year, r.Name))
	}
	return nil, labels, nil
}

func labelRefs(refs []index.ProjectRef) []string {
	labels := make([]string, len(refs))
	for i, r := range refs {
		labels[i] = r.Year + "/" + r.Name
	}
	return labels
}
