// Package chat runs the per-connection conversation loop: it streams
// completions from the upstream model, executes requested tool calls and
// pushes the resulting events back over the websocket.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haozheli/docchat/internal/providers"
	"github.com/haozheli/docchat/internal/tools"
)

// defaultMaxDepth bounds recursive completions within one user turn when
// the configuration does not say otherwise.
const defaultMaxDepth = 5

// Config carries the per-process pieces shared by every orchestrator.
type Config struct {
	Provider     providers.Provider
	Registry     *tools.Registry
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxDepth     int
	HistoryRoot  string
}

// Orchestrator drives one websocket connection's conversation. One
// instance per connection; HandleMessage is called from the connection's
// read loop, so inbound messages arrive one at a time.
type Orchestrator struct {
	cfg  Config
	user string
	sid  string
	sink Sink
	defs []providers.ToolDefinition
	log  *slog.Logger

	tracer trace.Tracer

	mu             sync.Mutex
	history        []providers.Message
	conversationID string
	cancel         context.CancelFunc
	stopped        atomic.Bool
	wg             sync.WaitGroup
}

func NewOrchestrator(cfg Config, user, sessionID string, sink Sink) *Orchestrator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	o := &Orchestrator{
		cfg:    cfg,
		user:   user,
		sid:    sessionID,
		sink:   sink,
		defs:   cfg.Registry.Definitions(),
		log:    slog.With("component", "chat", "user", user),
		tracer: otel.Tracer("docchat/chat"),
	}
	o.history = []providers.Message{o.systemMessage()}
	return o
}

func (o *Orchestrator) systemMessage() providers.Message {
	return providers.Message{
		Role:    "system",
		Content: o.cfg.SystemPrompt + fmt.Sprintf("\n下面是用户:%s提问:\n", o.user),
	}
}

// HandleMessage routes one inbound websocket frame.
func (o *Orchestrator) HandleMessage(raw []byte) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		o.sendControl("error", "消息格式错误")
		return
	}

	switch {
	case msg.Type == "stop_chat_stream":
		o.Stop()
		o.sendControl("stop_request_processed", "")
	case msg.Type == "start_conversation":
		o.resetConversation(msg.ConversationID)
	case msg.Query != "":
		o.startQuery(msg.Query, msg.ConversationID)
	default:
		o.sendControl("error", "未知请求类型")
	}
}

// Stop cancels the in-flight completion. Safe to call at any time.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops the in-flight task, waits for it to drain and dumps the
// conversation history. Called when the websocket goes away.
func (o *Orchestrator) Close() {
	o.Stop()
	o.wg.Wait()
	o.dumpHistory()
}

func (o *Orchestrator) resetConversation(conversationID string) {
	o.Stop()
	o.wg.Wait()
	o.mu.Lock()
	o.history = []providers.Message{o.systemMessage()}
	o.conversationID = conversationID
	o.mu.Unlock()
}

func (o *Orchestrator) startQuery(query, conversationID string) {
	// A new query supersedes whatever is still streaming.
	o.Stop()
	o.wg.Wait()
	o.stopped.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	taskID := uuid.New().String()

	o.mu.Lock()
	if conversationID != "" {
		o.conversationID = conversationID
	}
	o.history = append(o.history, providers.Message{Role: "user", Content: query})
	o.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.runTurn(ctx, taskID)
	}()
}

// runTurn executes one user turn to completion and always closes it with
// a message_end event.
func (o *Orchestrator) runTurn(ctx context.Context, taskID string) {
	defer o.sendEvents(Event{Event: "message_end", ConversationID: o.conversationID, TaskID: taskID})

	if err := o.handleStream(ctx, taskID, 1); err != nil {
		if errors.Is(err, context.Canceled) || o.stopped.Load() {
			return
		}
		o.log.Error("chat stream failed", "error", err)
		o.sendControl("error", "上游服务错误: "+err.Error())
	}
}

func (o *Orchestrator) handleStream(ctx context.Context, taskID string, depth int) error {
	if depth > o.cfg.MaxDepth {
		o.sendEvents(Event{
			Event:          "agent_message",
			Answer:         "[系统错误] 工具调用嵌套太深",
			ConversationID: o.conversationID,
			TaskID:         taskID,
		})
		return nil
	}

	o.mu.Lock()
	messages := make([]providers.Message, len(o.history))
	copy(messages, o.history)
	o.mu.Unlock()

	temp := o.cfg.Temperature
	req := providers.ChatRequest{
		Messages:    messages,
		Tools:       o.defs,
		Model:       o.cfg.Model,
		Temperature: &temp,
	}

	ctx, span := o.tracer.Start(ctx, "chat.completion",
		trace.WithAttributes(
			attribute.String("chat.model", o.cfg.Model),
			attribute.Int("chat.depth", depth),
		))
	resp, err := o.cfg.Provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
		if chunk.Content == "" || o.stopped.Load() {
			return
		}
		o.sendEvents(Event{
			Event:          "agent_message",
			Answer:         chunk.Content,
			ConversationID: o.conversationID,
			TaskID:         taskID,
		})
	})
	span.End()
	if err != nil {
		return err
	}

	if resp.FinishReason == "tool_calls" && len(resp.ToolCalls) > 0 {
		return o.runToolCalls(ctx, taskID, depth, resp)
	}

	o.mu.Lock()
	o.history = append(o.history, providers.Message{Role: "assistant", Content: resp.Content})
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) runToolCalls(ctx context.Context, taskID string, depth int, resp *providers.ChatResponse) error {
	o.mu.Lock()
	o.history = append(o.history, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	o.mu.Unlock()

	observations := make([]string, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		toolCtx, span := o.tracer.Start(ctx, "tool.invoke",
			trace.WithAttributes(attribute.String("tool.name", call.Name)))
		output := o.cfg.Registry.Invoke(toolCtx, o.user, call.Name, call.Arguments)
		span.End()

		o.log.Info("tool executed", "tool", call.Name, "output_len", len(output))
		observations = append(observations, "工具结果: "+output)

		o.mu.Lock()
		o.history = append(o.history, providers.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    output,
		})
		o.mu.Unlock()
	}

	o.sendEvents(Event{
		Event:          "agent_thought",
		Observation:    strings.Join(observations, "\n"),
		ConversationID: o.conversationID,
		TaskID:         taskID,
	})

	return o.handleStream(ctx, taskID, depth+1)
}

func (o *Orchestrator) sendEvents(events ...Event) {
	if err := o.sink.Send(batchOf(events...)); err != nil {
		o.log.Debug("event send failed", "error", err)
	}
}

func (o *Orchestrator) sendControl(msgType, content string) {
	if err := o.sink.Send(ControlMessage{Type: msgType, Content: content}); err != nil {
		o.log.Debug("control send failed", "error", err)
	}
}

// dumpHistory writes the conversation to disk, best effort.
func (o *Orchestrator) dumpHistory() {
	if o.cfg.HistoryRoot == "" {
		return
	}
	o.mu.Lock()
	data, err := json.MarshalIndent(o.history, "", "  ")
	o.mu.Unlock()
	if err != nil {
		o.log.Warn("history marshal failed", "error", err)
		return
	}

	dir := filepath.Join(o.cfg.HistoryRoot, o.user)
	if err := os.MkdirAll(dir, 0755); err != nil {
		o.log.Warn("history dir failed", "error", err)
		return
	}
	path := filepath.Join(dir, o.sid+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		o.log.Warn("history write failed", "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		o.log.Warn("history rename failed", "error", err)
	}
}
