// Package notify delivers scheduler lifecycle events to sinks without ever
// holding up scheduling: Publish enqueues and returns, and a full queue drops
// the event instead of blocking.
package notify

import (
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventGraphSubmitted EventType = "graph_submitted"
	EventGraphFinished  EventType = "graph_finished"

	EventNodeStarted   EventType = "node_started"
	EventNodeSucceeded EventType = "node_succeeded"
	EventNodeFailed    EventType = "node_failed"
	EventNodeRetrying  EventType = "node_retrying"
	EventNodeSkipped   EventType = "node_skipped"
	EventNodeCancelled EventType = "node_cancelled"
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	EventGraphSubmitted,
	EventGraphFinished,
	EventNodeStarted,
	EventNodeSucceeded,
	EventNodeFailed,
	EventNodeRetrying,
	EventNodeSkipped,
	EventNodeCancelled,
}

// IsValidEventType checks if t is a known event type.
func IsValidEventType(t EventType) bool {
	for _, valid := range EventTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// Event is one lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	GraphID   string         `json:"graph_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates a graph-level event.
func NewEvent(eventType EventType, graphID string, data map[string]any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		GraphID:   graphID,
		Data:      data,
	}
}

// NewNodeEvent creates an event about one node.
func NewNodeEvent(eventType EventType, graphID, nodeID string, data map[string]any) *Event {
	e := NewEvent(eventType, graphID, data)
	e.NodeID = nodeID
	return e
}

// GetString gets a string value from event data.
func (e *Event) GetString(key string) string {
	if val, ok := e.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt gets an int value from event data.
func (e *Event) GetInt(key string) int {
	if val, ok := e.Data[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 0
}
