package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of event.
type EventType string

const (
	EventTypeRunStatus   EventType = "run_status"
	EventTypeAgentStatus EventType = "agent_status"
	EventTypeStateChange EventType = "state_change"
	EventTypePlan        EventType = "plan"
	EventTypeReplan      EventType = "replan"
	EventTypeLog         EventType = "log"
	EventTypeError       EventType = "error"
	EventTypeHello       EventType = "hello"
	EventTypeStreamEnd   EventType = "stream_end"
)

// Event represents a single event in a run's event stream.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agent_id,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// RunStatusEvent is the data payload for run status change events.
type RunStatusEvent struct {
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// AgentStatusEvent is the data payload for agent record transitions.
type AgentStatusEvent struct {
	RecordID string      `json:"record_id"`
	Action   string      `json:"action"`
	Status   AgentStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// StateChangeEvent is the data payload emitted after the engine merges a
// state delta into a new snapshot.
type StateChangeEvent struct {
	Action string  `json:"action"`
	Delta  Partial `json:"delta,omitempty"`
}

// ReplanEvent is the data payload emitted when the engine discards the
// remainder of the active plan and computes a fresh one.
type ReplanEvent struct {
	Trigger   string `json:"trigger"`
	Discarded int    `json:"discarded"`
	Spliced   int    `json:"spliced"`
	Replans   int    `json:"replans"`
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
