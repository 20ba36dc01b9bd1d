package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haozheli/docchat/internal/docparse"
	"github.com/haozheli/docchat/internal/index"
)

// File categories the reader distinguishes.
const (
	CategoryOrdinary    = "普通文档"
	CategoryDrawing     = "图纸图形文档"
	CategorySpreadsheet = "概算书文档"
)

// ReadProjectFileTool reads one project file: ordinary documents as text,
// spreadsheets sheet by sheet, drawings as a download link only.
type ReadProjectFileTool struct {
	env *Env
}

func NewReadProjectFileTool(env *Env) *ReadProjectFileTool {
	return &ReadProjectFileTool{env: env}
}

func (t *ReadProjectFileTool) Name() string { return "readProjectFile" }

func (t *ReadProjectFileTool) Description() string {
	return "读取项目文件内容。普通文档直接读出文本；概算书文档按工作表读取(不传 sheetName 先列出工作表)；图纸图形文档只生成预览下载链接。"
}

func (t *ReadProjectFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath": map[string]interface{}{
				"type":        "string",
				"description": "项目文件相对路径，来自 queryProjectFiles 的结果",
			},
			"fileCategory": map[string]interface{}{
				"type":        "string",
				"enum":        []string{CategoryOrdinary, CategoryDrawing, CategorySpreadsheet},
				"description": "文件类别",
			},
			"sheetName": map[string]interface{}{
				"type":        "string",
				"description": "概算书文档的工作表名，留空则列出全部工作表",
			},
		},
		"required": []string{"filePath", "fileCategory"},
	}
}

func (t *ReadProjectFileTool) Execute(ctx context.Context, user string, args map[string]interface{}) *Result {
	relPath := strings.TrimSpace(strArg(args, "filePath"))
	fileCategory := strings.TrimSpace(strArg(args, "fileCategory"))
	sheetName := strings.TrimSpace(strArg(args, "sheetName"))

	if relPath == "" {
		return JSONResult(BaseResponse{Error: "filePath 不能为空"})
	}

	fs := t.env.Files[index.DocTypeProject]
	abs, err := fs.Resolve(relPath)
	if err != nil {
		return JSONResult(BaseResponse{Error: "文件路径无效"}).WithError(err)
	}
	if !fs.FileExists(relPath) {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("文件不存在: %s", relPath)})
	}

	switch fileCategory {
	case CategoryDrawing:
		return t.registerOnly(user, relPath, "图纸请通过下载链接在线预览")
	case CategorySpreadsheet:
		return t.readSpreadsheet(user, relPath, abs, sheetName)
	case CategoryOrdinary:
		return t.readOrdinary(user, relPath, abs)
	default:
		return JSONResult(BaseResponse{
			Error: fmt.Sprintf("未知文件类别 %q", fileCategory),
			Hint:  fmt.Sprintf("可选: %s、%s、%s", CategoryOrdinary, CategoryDrawing, CategorySpreadsheet),
		})
	}
}

func (t *ReadProjectFileTool) registerOnly(user, relPath, hint string) *Result {
	resp := BaseResponse{FilePath: relPath, Hint: hint}
	if entry := t.env.Sessions.UpdateOpenedFile(user, relPath, true, string(index.DocTypeProject)); entry != nil {
		resp.Token = entry.Token
		resp.DownloadURL = DownloadURL(entry.Token, entry.FileName)
	}
	return JSONResult(resp)
}

func (t *ReadProjectFileTool) readSpreadsheet(user, relPath, abs, sheetName string) *Result {
	if docparse.ExtOf(relPath) != "xlsx" {
		return JSONResult(BaseResponse{Error: "概算书文档仅支持 xlsx 格式"})
	}

	if sheetName == "" {
		sheets, err := docparse.SheetNames(abs)
		if err != nil {
			return JSONResult(BaseResponse{Error: fmt.Sprintf("工作簿读取失败: %v", err)}).WithError(err)
		}
		return JSONResult(BaseResponse{
			FilePath: relPath,
			Content:  "工作表列表:\n" + strings.Join(sheets, "\n"),
			Hint:     "请带上 sheetName 再次调用以读取具体工作表",
		})
	}

	content, err := docparse.ParseXLSXSheet(abs, sheetName, 0)
	if err != nil {
		return JSONResult(BaseResponse{
			Error: err.Error(),
			Hint:  "请从列出的工作表中选择一个有效名称",
		}).WithError(err)
	}

	resp := BaseResponse{FilePath: relPath}
	resp.Content, _ = truncateRunes(content, t.env.ContextWindow)
	if entry := t.env.Sessions.UpdateOpenedFile(user, relPath, true, string(index.DocTypeProject)); entry != nil {
		resp.Token = entry.Token
		resp.DownloadURL = DownloadURL(entry.Token, entry.FileName)
	}
	return JSONResult(resp)
}

func (t *ReadProjectFileTool) readOrdinary(user, relPath, abs string) *Result {
	content, err := docparse.ParseFile(abs)
	if err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("文件读取失败: %v", err)}).WithError(err)
	}

	resp := BaseResponse{FilePath: relPath}
	var truncated bool
	resp.Content, truncated = truncateRunes(content, t.env.ContextWindow)
	if truncated {
		resp.Hint = "内容超出上下文长度，已截断"
	}
	if entry := t.env.Sessions.UpdateOpenedFile(user, relPath, true, string(index.DocTypeProject)); entry != nil {
		resp.Token = entry.Token
		resp.DownloadURL = DownloadURL(entry.Token, entry.FileName)
	}
	return JSONResult(resp)
}
