package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	docx "github.com/lukasjarosch/go-docx"

	"github.com/haozheli/docchat/internal/index"
)

// WriteReviewDocTool drafts a review-comment document from a DOCX template.
// Stage one (getManual) returns the template's fill-in instructions; stage
// two renders the template with the LLM-supplied field mapping and drops
// the result into the user's working directory.
type WriteReviewDocTool struct {
	env *Env
}

func NewWriteReviewDocTool(env *Env) *WriteReviewDocTool {
	return &WriteReviewDocTool{env: env}
}

func (t *WriteReviewDocTool) Name() string { return "writeReviewDoc" }

func (t *WriteReviewDocTool) Description() string {
	return "生成评审意见文档。先以 getManual 为 true 获取模板填写说明，再以 getManual 为 false 并携带 projectName 和 JSON 格式的 content 生成正式文档。"
}

func (t *WriteReviewDocTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"templateType": map[string]interface{}{
				"type":        "string",
				"description": "模板类型，例如 评审意见",
			},
			"getManual": map[string]interface{}{
				"type":        "boolean",
				"description": "是否只获取模板填写说明，默认 true",
			},
			"projectName": map[string]interface{}{
				"type":        "string",
				"description": "项目名称，生成文档时必填",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "JSON 对象字符串，键为模板占位符名，值为填写内容",
			},
		},
		"required": []string{"templateType"},
	}
}

func (t *WriteReviewDocTool) Execute(ctx context.Context, user string, args map[string]interface{}) *Result {
	templateType := strings.TrimSpace(strArg(args, "templateType"))
	if templateType == "" {
		return JSONResult(BaseResponse{Error: "templateType 不能为空"})
	}
	if strings.ContainsAny(templateType, "/\\.") {
		return JSONResult(BaseResponse{Error: "templateType 非法"})
	}

	if boolArg(args, "getManual", true) {
		return t.readManual(templateType)
	}

	projectName := strings.TrimSpace(strArg(args, "projectName"))
	if projectName == "" {
		return JSONResult(BaseResponse{Error: "生成文档需要 projectName"})
	}
	fields, err := parseContentArg(args["content"])
	if err != nil {
		return JSONResult(BaseResponse{
			Error: fmt.Sprintf("content 解析失败: %v", err),
			Hint:  "content 必须是 JSON 对象，键为模板占位符名",
		}).WithError(err)
	}
	if len(fields) == 0 {
		return JSONResult(BaseResponse{Error: "content 不能为空"})
	}

	return t.render(user, templateType, projectName, fields)
}

func (t *WriteReviewDocTool) readManual(templateType string) *Result {
	manualPath := filepath.Join(t.env.TemplatesDir, templateType+".md")
	data, err := os.ReadFile(manualPath)
	if err != nil {
		return JSONResult(BaseResponse{
			Error: fmt.Sprintf("模板 %q 的填写说明不存在", templateType),
		}).WithError(err)
	}
	return JSONResult(BaseResponse{
		Content: string(data),
		Hint:    "请按说明准备 content 字段后，以 getManual 为 false 再次调用",
	})
}

func (t *WriteReviewDocTool) render(user, templateType, projectName string, fields map[string]interface{}) *Result {
	templatePath := filepath.Join(t.env.TemplatesDir, templateType+".docx")
	if _, err := os.Stat(templatePath); err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("模板 %q 不存在", templateType)}).WithError(err)
	}

	fs := t.env.Files[index.DocTypeProject]
	outDir := "评审意见草稿"
	if workDir, ok := t.env.Sessions.WorkingDirPath(user); ok {
		outDir = workDir + "/过程文件/评审意见草稿"
	}
	fileName := fmt.Sprintf("%s_评审意见_%s.docx", projectName, time.Now().Format("20060102-150405"))
	outRel := outDir + "/" + fileName
	outAbs, err := fs.Resolve(outRel)
	if err != nil {
		return JSONResult(BaseResponse{Error: "输出路径无效"}).WithError(err)
	}
	if err := os.MkdirAll(filepath.Dir(outAbs), 0755); err != nil {
		return JSONResult(BaseResponse{Error: "输出目录创建失败"}).WithError(err)
	}

	doc, err := docx.Open(templatePath)
	if err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("模板打开失败: %v", err)}).WithError(err)
	}
	placeholders := make(docx.PlaceholderMap, len(fields))
	for k, v := range fields {
		placeholders[k] = v
	}
	if err := doc.ReplaceAll(placeholders); err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("模板渲染失败: %v", err)}).WithError(err)
	}
	if err := doc.WriteToFile(outAbs); err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("文档写入失败: %v", err)}).WithError(err)
	}
	if err := stripEmptyParagraphs(outAbs); err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("文档整理失败: %v", err)}).WithError(err)
	}

	resp := BaseResponse{
		FilePath: outRel,
		Hint:     "评审意见草稿已生成，可通过下载链接查看",
	}
	if entry := t.env.Sessions.UpdateOpenedFile(user, outRel, true, string(index.DocTypeProject)); entry != nil {
		resp.Token = entry.Token
		resp.DownloadURL = DownloadURL(entry.Token, entry.FileName)
	}
	return JSONResult(resp)
}

// parseContentArg accepts the field mapping either as a JSON object or as
// a JSON object serialized into a string, which is how models usually
// pass it.
func parseContentArg(v interface{}) (map[string]interface{}, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return c, nil
	case string:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(c), &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unexpected content type %T", v)
	}
}
