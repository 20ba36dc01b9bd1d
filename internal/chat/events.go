package chat

// Sink is the connection-side writer the orchestrator emits events to.
// The gateway's websocket wrapper implements it with a single writer
// goroutine behind a mutex.
type Sink interface {
	Send(v interface{}) error
}

// Event mirrors the front-end's agent event shape.
type Event struct {
	Event          string `json:"event"` // agent_message, agent_thought, message_end
	Answer         string `json:"answer,omitempty"`
	Observation    string `json:"observation,omitempty"`
	ConversationID string `json:"conversation_id"`
	TaskID         string `json:"task_id"`
}

// EventBatch is the websocket envelope wrapping one or more events.
type EventBatch struct {
	Type    string        `json:"type"` // "chat_event_batch"
	Payload []interface{} `json:"payload"`
}

// ControlMessage covers the non-batch outbound frames.
type ControlMessage struct {
	Type    string `json:"type"` // "stop_request_processed", "error"
	Content string `json:"content,omitempty"`
}

// Inbound is every message shape a chat websocket client may send.
type Inbound struct {
	Type           string                 `json:"type,omitempty"`
	Query          string                 `json:"query,omitempty"`
	Inputs         map[string]interface{} `json:"inputs,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
}

func batchOf(events ...Event) EventBatch {
	payload := make([]interface{}, len(events))
	for i, e := range events {
		payload[i] = e
	}
	return EventBatch{Type: "chat_event_batch", Payload: payload}
}
