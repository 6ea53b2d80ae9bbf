package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/version"
)

// Sink receives events. Notify may block up to the context deadline; the
// dispatcher gives every delivery its own timeout.
type Sink interface {
	Name() string
	// EventTypes returns the events this sink handles; empty means all.
	EventTypes() []EventType
	Notify(ctx context.Context, event *Event) error
}

// Accepts reports whether sink wants events of type t.
func Accepts(sink Sink, t EventType) bool {
	types := sink.EventTypes()
	if len(types) == 0 {
		return true
	}
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}

// FuncSink adapts a function to Sink.
type FuncSink struct {
	SinkName string
	Events   []EventType
	Fn       func(ctx context.Context, event *Event) error
}

func (s FuncSink) Name() string            { return s.SinkName }
func (s FuncSink) EventTypes() []EventType { return s.Events }
func (s FuncSink) Notify(ctx context.Context, event *Event) error {
	return s.Fn(ctx, event)
}

// ChannelSink forwards events to a channel, giving up when ctx ends.
type ChannelSink struct {
	C      chan<- *Event
	Events []EventType
}

func (s ChannelSink) Name() string            { return "channel" }
func (s ChannelSink) EventTypes() []EventType { return s.Events }
func (s ChannelSink) Notify(ctx context.Context, event *Event) error {
	select {
	case s.C <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes events to a logger at info level.
type LogSink struct {
	logger *log.Logger
	events []EventType
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *log.Logger, events ...EventType) *LogSink {
	return &LogSink{logger: logger, events: events}
}

func (s *LogSink) Name() string            { return "log" }
func (s *LogSink) EventTypes() []EventType { return s.events }
func (s *LogSink) Notify(ctx context.Context, event *Event) error {
	args := []any{"event", string(event.Type), "graph_id", event.GraphID}
	if event.NodeID != "" {
		args = append(args, "node_id", event.NodeID)
	}
	for k, v := range event.Data {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, "graph event", args...)
	return nil
}

// WebhookSink POSTs each event as JSON.
type WebhookSink struct {
	name    string
	url     string
	headers map[string]string
	events  []EventType
	client  *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(name, url string, headers map[string]string, events ...EventType) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL required")
	}
	if name == "" {
		name = "webhook"
	}
	return &WebhookSink{
		name:    name,
		url:     url,
		headers: headers,
		events:  events,
		client:  &http.Client{},
	}, nil
}

func (s *WebhookSink) Name() string            { return s.name }
func (s *WebhookSink) EventTypes() []EventType { return s.events }
func (s *WebhookSink) Notify(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EventLogSink appends events to a file as JSON lines.
type EventLogSink struct {
	mu     sync.Mutex
	path   string
	events []EventType
}

// NewEventLogSink creates the parent directory of path and returns a sink
// appending to it.
func NewEventLogSink(path string, events ...EventType) (*EventLogSink, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &EventLogSink{path: path, events: events}, nil
}

func (s *EventLogSink) Name() string            { return "eventlog" }
func (s *EventLogSink) EventTypes() []EventType { return s.events }
func (s *EventLogSink) Notify(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return nil
}

// SinkConfig describes a sink in the configuration file.
type SinkConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"` // webhook, eventlog, log
	Events  []EventType       `yaml:"events,omitempty" json:"events,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the sink type, required fields and event names.
func (c SinkConfig) Validate() error {
	for _, et := range c.Events {
		if !IsValidEventType(et) {
			return fmt.Errorf("sink %s: unknown event type %q", c.Name, et)
		}
	}
	switch c.Type {
	case "webhook":
		if c.URL == "" {
			return fmt.Errorf("sink %s: webhook URL required", c.Name)
		}
	case "eventlog":
		if c.Path == "" {
			return fmt.Errorf("sink %s: event log path required", c.Name)
		}
	case "log":
	default:
		return fmt.Errorf("sink %s: unknown type %q (expected webhook, eventlog or log)", c.Name, c.Type)
	}
	return nil
}

// NewSink builds the sink described by cfg.
func NewSink(cfg SinkConfig, logger *log.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "webhook":
		s, err := NewWebhookSink(cfg.Name, cfg.URL, cfg.Headers, cfg.Events...)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			s.client.Timeout = cfg.Timeout
		}
		return s, nil
	case "eventlog":
		return NewEventLogSink(cfg.Path, cfg.Events...)
	default:
		return NewLogSink(logger, cfg.Events...), nil
	}
}
