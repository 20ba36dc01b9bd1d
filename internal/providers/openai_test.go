package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestChatStreamText(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"你好"}}]}`,
		`{"choices":[{"delta":{"content":"，世界"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`,
	})
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "test-model")
	var chunks []string
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(c StreamChunk) {
		if c.Content != "" {
			chunks = append(chunks, c.Content)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "你好，世界" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if len(chunks) != 2 {
		t.Errorf("got %d chunks", len(chunks))
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 14 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatStreamToolCallAccumulation(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"queryProjectFiles","arguments":"{\"project"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"Name\":\"X\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"queryKnowledgeBase","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "m")
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "q"}},
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.ID != "call_abc" || first.Name != "queryProjectFiles" {
		t.Errorf("first call = %+v", first)
	}
	if first.Arguments != `{"projectName":"X"}` {
		t.Errorf("arguments not reassembled: %q", first.Arguments)
	}
	// The second delta carried no id; one is synthesized.
	if resp.ToolCalls[1].ID != "call_0" {
		t.Errorf("synthesized id = %q", resp.ToolCalls[1].ID)
	}
}

func TestChatStreamRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "m")
	p.retryConfig = RetryConfig{MaxRetries: 2, BaseDelay: 1, MaxDelay: 1}
	resp, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}}, nil)
	if err != nil {
		t.Fatalf("ChatStream after retry: %v", err)
	}
	if resp.Content != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("content = %q, calls = %d", resp.Content, calls)
	}
}

func TestChatStreamNoRetryOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "m")
	p.retryConfig = RetryConfig{MaxRetries: 3, BaseDelay: 1, MaxDelay: 1}
	_, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}}, nil)
	if err == nil {
		t.Fatal("400 should fail")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("client retried a 400: %d calls", calls)
	}
}

func TestBuildRequestBodyWireFormat(t *testing.T) {
	p := NewOpenAIProvider("key", "http://x", "m")
	body := p.buildRequestBody("m", ChatRequest{
		Messages: []Message{
			{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "call_1", Name: "t", Arguments: `{"a":1}`}}},
			{Role: "tool", Content: "result", ToolCallID: "call_1"},
		},
		Tools: []ToolDefinition{{Type: "function", Function: ToolFunctionSchema{Name: "t"}}},
	}, true)

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	if !strings.Contains(s, `"tool_call_id":"call_1"`) {
		t.Errorf("tool message missing tool_call_id: %s", s)
	}
	if !strings.Contains(s, `"arguments":"{\"a\":1}"`) {
		t.Errorf("arguments not a JSON string: %s", s)
	}
	if !strings.Contains(s, `"tool_choice":"auto"`) || !strings.Contains(s, `"include_usage":true`) {
		t.Errorf("stream request incomplete: %s", s)
	}

	// Assistant messages carrying tool_calls omit empty content.
	msgs := body["messages"].([]map[string]interface{})
	if _, ok := msgs[0]["content"]; ok {
		t.Error("empty assistant content should be omitted alongside tool_calls")
	}
}
