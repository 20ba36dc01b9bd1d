package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haozheli/docchat/internal/kb"
)

// QueryKnowledgeBaseTool retrieves ranked segments from the external
// knowledge-base service.
type QueryKnowledgeBaseTool struct {
	env *Env
}

func NewQueryKnowledgeBaseTool(env *Env) *QueryKnowledgeBaseTool {
	return &QueryKnowledgeBaseTool{env: env}
}

func (t *QueryKnowledgeBaseTool) Name() string { return "queryKnowledgeBase" }

func (t *QueryKnowledgeBaseTool) Description() string {
	return "在外部知识库中语义检索规范条文和评审知识。传入检索内容和知识库名称。"
}

func (t *QueryKnowledgeBaseTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "检索内容",
			},
			"kbName": map[string]interface{}{
				"type":        "string",
				"description": "知识库名称",
			},
			"topK": map[string]interface{}{
				"type":        "integer",
				"description": "返回条数，默认取服务端配置",
			},
		},
		"required": []string{"query", "kbName"},
	}
}

func (t *QueryKnowledgeBaseTool) Execute(ctx context.Context, user string, args map[string]interface{}) *Result {
	query := strings.TrimSpace(strArg(args, "query"))
	kbName := strings.TrimSpace(strArg(args, "kbName"))
	topK := intArg(args, "topK", 0)

	if query == "" || kbName == "" {
		return JSONResult(BaseResponse{Error: "query 和 kbName 不能为空"})
	}
	if t.env.KB == nil {
		return JSONResult(BaseResponse{Error: "知识库服务未配置"})
	}

	records, err := t.env.KB.Query(ctx, kbName, query, topK)
	if err != nil {
		return JSONResult(BaseResponse{Error: fmt.Sprintf("知识库检索失败: %v", err)}).WithError(err)
	}
	return JSONResult(BaseResponse{
		Content: kb.FormatRecords(records),
		Hint:    fmt.Sprintf("来自知识库 %s 的 %d 条检索结果", kbName, len(records)),
	})
}
