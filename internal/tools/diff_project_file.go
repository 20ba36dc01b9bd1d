package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/haozheli/docchat/internal/docparse"
	"github.com/haozheli/docchat/internal/index"
)

// Document types the differ understands.
const (
	DiffTypeReport    = "报告（说明书）"
	DiffTypeMaterials = "材料清册"
	DiffTypeCostSheet = "概算表"
)

// DiffProjectFileTool compares two versions of a project document with a
// line-level unified diff; cost sheets compare per worksheet.
type DiffProjectFileTool struct {
	env *Env
}

func NewDiffProjectFileTool(env *Env) *DiffProjectFileTool {
	return &DiffProjectFileTool{env: env}
}

func (t *DiffProjectFileTool) Name() string { return "diffProjectFile" }

func (t *DiffProjectFileTool) Description() string {
	return "对比两个版本的项目文件差异。报告和材料清册按行对比；概算表按工作表对比(allSheet 为 true 对比全部工作表，否则需要 sheetName)。"
}

func (t *DiffProjectFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath1": map[string]interface{}{
				"type":        "string",
				"description": "旧版本文件的相对路径",
			},
			"filePath2": map[string]interface{}{
				"type":        "string",
				"description": "新版本文件的相对路径",
			},
			"documentType": map[string]interface{}{
				"type":        "string",
				"enum":        []string{DiffTypeReport, DiffTypeMaterials, DiffTypeCostSheet},
				"description": "文档类型",
			},
			"sheetName": map[string]interface{}{
				"type":        "string",
				"description": "概算表需要对比的工作表名",
			},
			"allSheet": map[string]interface{}{
				"type":        "boolean",
				"description": "概算表是否对比全部工作表",
			},
		},
		"required": []string{"filePath1", "filePath2", "documentType"},
	}
}

func (t *DiffProjectFileTool) Execute(ctx context.Context, user string, args map[string]interface{}) *Result {
	rel1 := strings.TrimSpace(strArg(args, "filePath1"))
	rel2 := strings.TrimSpace(strArg(args, "filePath2"))
	docType := strings.TrimSpace(strArg(args, "documentType"))
	sheetName := strings.TrimSpace(strArg(args, "sheetName"))
	allSheet := boolArg(args, "allSheet", false)

	if rel1 == "" || rel2 == "" {
		return JSONResult(DiffResponse{Error: "filePath1 和 filePath2 不能为空"})
	}
	switch docType {
	case DiffTypeReport, DiffTypeMaterials, DiffTypeCostSheet:
	default:
		return JSONResult(DiffResponse{
			Error: fmt.Sprintf("未知文档类型 %q", docType),
			Hint:  fmt.Sprintf("可选: %s、%s、%s", DiffTypeReport, DiffTypeMaterials, DiffTypeCostSheet),
		})
	}

	fs := t.env.Files[index.DocTypeProject]
	abs1, err := fs.Resolve(rel1)
	if err != nil {
		return JSONResult(DiffResponse{Error: "filePath1 路径无效"}).WithError(err)
	}
	abs2, err := fs.Resolve(rel2)
	if err != nil {
		return JSONResult(DiffResponse{Error: "filePath2 路径无效"}).WithError(err)
	}
	if !fs.FileExists(rel1) || !fs.FileExists(rel2) {
		return JSONResult(DiffResponse{Error: "待对比的文件不存在"})
	}
	ext1, ext2 := docparse.ExtOf(rel1), docparse.ExtOf(rel2)
	if ext1 != ext2 {
		return JSONResult(DiffResponse{Error: fmt.Sprintf("两个文件扩展名不一致: .%s 与 .%s", ext1, ext2)})
	}

	var content string
	if docType == DiffTypeCostSheet {
		if ext1 != "xlsx" {
			return JSONResult(DiffResponse{Error: "概算表对比仅支持 xlsx 格式"})
		}
		content, err = t.diffWorkbooks(abs1, abs2, sheetName, allSheet)
	} else {
		content, err = t.diffDocuments(abs1, abs2, rel1, rel2)
	}
	if err != nil {
		return JSONResult(DiffResponse{Error: err.Error()}).WithError(err)
	}

	resp := DiffResponse{
		FilePath1: rel1,
		FilePath2: rel2,
		Hint:      "对比结果为 unified diff 格式，- 为旧版本，+ 为新版本",
	}
	resp.Content, _ = truncateRunes(content, t.env.ContextWindow)
	if e1 := t.env.Sessions.UpdateOpenedFile(user, rel1, true, string(index.DocTypeProject)); e1 != nil {
		resp.Token1 = e1.Token
		resp.DownloadURL1 = DownloadURL(e1.Token, e1.FileName)
	}
	if e2 := t.env.Sessions.UpdateOpenedFile(user, rel2, true, string(index.DocTypeProject)); e2 != nil {
		resp.Token2 = e2.Token
		resp.DownloadURL2 = DownloadURL(e2.Token, e2.FileName)
	}
	return JSONResult(resp)
}

func (t *DiffProjectFileTool) diffDocuments(abs1, abs2, rel1, rel2 string) (string, error) {
	text1, err := docparse.ParseFile(abs1)
	if err != nil {
		return "", fmt.Errorf("读取 %s 失败: %v", rel1, err)
	}
	text2, err := docparse.ParseFile(abs2)
	if err != nil {
		return "", fmt.Errorf("读取 %s 失败: %v", rel2, err)
	}
	diff := unifiedDiff(text1, text2)
	if diff == "" {
		return "两个版本内容一致，没有差异", nil
	}
	return diff, nil
}

func (t *DiffProjectFileTool) diffWorkbooks(abs1, abs2, sheetName string, allSheet bool) (string, error) {
	sheets1, err := docparse.SheetNames(abs1)
	if err != nil {
		return "", fmt.Errorf("读取旧版本工作簿失败: %v", err)
	}
	sheets2, err := docparse.SheetNames(abs2)
	if err != nil {
		return "", fmt.Errorf("读取新版本工作簿失败: %v", err)
	}

	if !allSheet {
		if sheetName == "" {
			return "", fmt.Errorf("非全表对比需要 sheetName，可选工作表: %s", strings.Join(intersect(sheets1, sheets2), "、"))
		}
		return t.diffOneSheet(abs1, abs2, sheetName)
	}

	common := intersect(sheets1, sheets2)
	only1 := subtract(sheets1, sheets2)
	only2 := subtract(sheets2, sheets1)

	var b strings.Builder
	for _, sheet := range common {
		diff, err := t.diffOneSheet(abs1, abs2, sheet)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "=== 工作表: %s ===\n%s\n", sheet, diff)
	}
	if len(only1) > 0 {
		fmt.Fprintf(&b, "仅旧版本存在的工作表: %s\n", strings.Join(only1, "、"))
	}
	if len(only2) > 0 {
		fmt.Fprintf(&b, "仅新版本存在的工作表: %s\n", strings.Join(only2, "、"))
	}
	return b.String(), nil
}

func (t *DiffProjectFileTool) diffOneSheet(abs1, abs2, sheet string) (string, error) {
	text1, err := docparse.ParseXLSXSheet(abs1, sheet, 0)
	if err != nil {
		return "", err
	}
	text2, err := docparse.ParseXLSXSheet(abs2, sheet, 0)
	if err != nil {
		return "", err
	}
	diff := unifiedDiff(text1, text2)
	if diff == "" {
		return "内容一致，没有差异", nil
	}
	return diff, nil
}

// unifiedDiff renders a line diff without the "---"/"+++" header pair;
// the surrounding response already names both files.
func unifiedDiff(a, b string) string {
	raw, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:       difflib.SplitLines(a),
		B:       difflib.SplitLines(b),
		Context: 3,
	})
	if err != nil || raw == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") ||
			line == "---" || line == "+++" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func subtract(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if !set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
