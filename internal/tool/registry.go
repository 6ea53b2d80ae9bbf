package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Option configures a registered tool.
type Option func(*entry)

// WithSchema validates arguments against an OpenAPI schema before the tool
// runs. A violation is an InvalidArguments node error.
func WithSchema(schema *openapi3.Schema) Option {
	return func(e *entry) { e.schema = schema }
}

// WithDescription documents the tool for listings.
func WithDescription(description string) Option {
	return func(e *entry) { e.description = description }
}

// WithSettings attaches per-tool execution overrides.
func WithSettings(s Settings) Option {
	return func(e *entry) { e.settings = s }
}

type entry struct {
	tool        Tool
	schema      *openapi3.Schema
	description string
	settings    Settings
}

// Info describes a registered tool.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	HasSchema   bool   `json:"has_schema"`
}

// Registry maps tool names to tools and implements Invoker.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool under name.
func (r *Registry) Register(name string, t Tool, opts ...Option) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t == nil {
		return fmt.Errorf("tool %s is nil", name)
	}

	e := &entry{tool: t}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = e
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(name string, t Tool, opts ...Option) {
	if err := r.Register(name, t, opts...); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for name, e := range r.tools {
		infos = append(infos, Info{Name: name, Description: e.description, HasSchema: e.schema != nil})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// ToolSettings implements SettingsProvider.
func (r *Registry) ToolSettings(name string) (Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Settings{}, false
	}
	return e.settings, true
}

// Validate checks that name exists and args satisfy its schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	_, _, err := r.prepare(name, args)
	return err
}

// Invoke validates args and calls the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	t, normalized, err := r.prepare(name, args)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, normalized)
}

func (r *Registry) prepare(name string, args map[string]any) (Tool, map[string]any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, task.InvalidArguments("unknown tool %q", name)
	}

	normalized, err := normalize(args)
	if err != nil {
		return nil, nil, task.InvalidArguments("%v", err)
	}

	if e.schema != nil {
		if err := e.schema.VisitJSON(any(normalized)); err != nil {
			return nil, nil, task.InvalidArguments("arguments for %s: %v", name, err)
		}
	}
	return e.tool, normalized, nil
}

// ParseSchema decodes an OpenAPI schema object from JSON.
func ParseSchema(data []byte) (*openapi3.Schema, error) {
	var schema openapi3.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse argument schema: %w", err)
	}
	if err := schema.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid argument schema: %w", err)
	}
	return &schema, nil
}

// SchemaFromMap converts a schema decoded from YAML or JSON config.
func SchemaFromMap(m map[string]any) (*openapi3.Schema, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode argument schema: %w", err)
	}
	return ParseSchema(data)
}
