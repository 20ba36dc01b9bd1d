package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StreamProxy bridges a chat websocket to a Dify-style SSE upstream
// instead of the tool-calling loop. One instance per connection.
type StreamProxy struct {
	baseURL string
	apiKey  string
	user    string
	sink    Sink
	client  *http.Client
	log     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func NewStreamProxy(baseURL, apiKey, user string, sink Sink) *StreamProxy {
	return &StreamProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		user:    user,
		sink:    sink,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     slog.With("component", "streamproxy", "user", user),
	}
}

// HandleMessage routes one inbound websocket frame.
func (p *StreamProxy) HandleMessage(raw []byte) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.sendControl("error", "消息格式错误")
		return
	}

	switch {
	case msg.Type == "stop_chat_stream":
		p.Stop()
		p.sendControl("stop_request_processed", "")
	case msg.Query != "":
		p.startQuery(msg)
	default:
		p.sendControl("error", "未知请求类型")
	}
}

func (p *StreamProxy) Stop() {
	p.stopped.Store(true)
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *StreamProxy) Close() {
	p.Stop()
	p.wg.Wait()
}

func (p *StreamProxy) startQuery(msg Inbound) {
	p.Stop()
	p.wg.Wait()
	p.stopped.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if err := p.stream(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || p.stopped.Load() {
				return
			}
			p.log.Error("upstream stream failed", "error", err)
			p.sendControl("error", "上游服务错误: "+err.Error())
		}
	}()
}

func (p *StreamProxy) stream(ctx context.Context, msg Inbound) error {
	inputs := msg.Inputs
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	body := map[string]interface{}{
		"query":         msg.Query,
		"inputs":        inputs,
		"user":          p.user,
		"response_mode": "streaming",
	}
	if msg.ConversationID != "" {
		body["conversation_id"] = msg.ConversationID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			p.log.Debug("unparsable sse chunk", "error", err)
			continue
		}
		if p.stopped.Load() {
			return nil
		}
		if err := p.sink.Send(EventBatch{Type: "chat_event_batch", Payload: []interface{}{event}}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (p *StreamProxy) sendControl(msgType, content string) {
	if err := p.sink.Send(ControlMessage{Type: msgType, Content: content}); err != nil {
		p.log.Debug("control send failed", "error", err)
	}
}
