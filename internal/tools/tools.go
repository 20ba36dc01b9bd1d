// Package tools implements the LLM-callable tool registry: project file
// lookup, specification retrieval, document reading and diffing, knowledge
// base queries and review-draft generation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/haozheli/docchat/internal/providers"
)

// Tool is one LLM-callable function. The authenticated username arrives
// out of band, never from model arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, user string, args map[string]interface{}) *Result
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`  // content sent to the LLM
	IsError bool   `json:"is_error"` // marks error
	Err     error  `json:"-"`        // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// JSONResult marshals v as the tool output. A marshal failure becomes an
// error result so the LLM always receives something parseable.
func JSONResult(v interface{}) *Result {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("[工具错误] 结果序列化失败").WithError(err)
	}
	return NewResult(string(b))
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   slog.With("component", "tools"),
	}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the schemas surfaced to the LLM, sorted by name so
// the tools field is stable across requests.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// Invoke parses rawArgs and executes the named tool. Every failure mode
// comes back as a string the LLM can read; the transcript never breaks on
// a tool error.
func (r *Registry) Invoke(ctx context.Context, user, name, rawArgs string) string {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("[工具错误] 未知工具: %s", name)
	}

	args := make(map[string]interface{})
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			r.log.Warn("tool arguments unparseable", "tool", name, "error", err)
			return fmt.Sprintf("[工具错误] 参数解析失败: %v", err)
		}
	}

	res := t.Execute(ctx, user, args)
	if res == nil {
		return "[工具错误] 工具未返回结果"
	}
	if res.Err != nil {
		r.log.Warn("tool failed", "tool", name, "user", user, "error", res.Err)
	} else {
		r.log.Debug("tool executed", "tool", name, "user", user, "is_error", res.IsError)
	}
	return res.ForLLM
}

// strArg reads an optional string argument.
func strArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

// boolArg reads an optional bool argument, tolerating string forms the
// model sometimes emits.
func boolArg(args map[string]interface{}, key string, def bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True"
	default:
		return def
	}
}

// intArg reads an optional numeric argument.
func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
