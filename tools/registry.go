// Package tools registers the MCP tools the server exposes, generating
// their input schemas from Go types and validating call arguments against
// them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	invopop "github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// Handler executes a synchronous tool call.
type Handler func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error)

type registration struct {
	tool      protocol.Tool
	handler   Handler
	async     bool
	validator *santhosh.Schema
}

// Registry holds every exposed tool. Async tools are listed and validated
// here but executed by the task manager.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

// Register adds a synchronous tool. argsType is a zero value of the
// arguments struct; its reflected schema becomes the tool's inputSchema.
func (r *Registry) Register(name, description string, argsType any, handler Handler) error {
	return r.add(name, description, argsType, handler, false)
}

// RegisterAsync adds a tool that runs as an async task. It appears in
// tools/list and its arguments are validated, but it has no sync handler.
func (r *Registry) RegisterAsync(name, description string, argsType any) error {
	return r.add(name, description, argsType, nil, true)
}

func (r *Registry) add(name, description string, argsType any, handler Handler, async bool) error {
	schema, validator, err := buildSchema(argsType)
	if err != nil {
		return fmt.Errorf("failed to build schema for tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = &registration{
		tool: protocol.Tool{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		handler:   handler,
		async:     async,
		validator: validator,
	}
	return nil
}

// List returns every registered tool, sorted by name.
func (r *Registry) List() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsAsync reports whether the tool runs as an async task. The second return
// is false for unknown tools.
func (r *Registry) IsAsync(name string) (async, known bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return false, false
	}
	return reg.async, true
}

// Validate checks args against the tool's input schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if reg.validator == nil {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	inst, err := santhosh.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := reg.validator.Validate(inst); err != nil {
		return fmt.Errorf("invalid arguments for tool %s: %w", name, err)
	}
	return nil
}

// Call validates and executes a synchronous tool.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	if reg.handler == nil {
		return nil, fmt.Errorf("tool %s has no synchronous handler", name)
	}

	if err := r.Validate(name, args); err != nil {
		return protocol.NewToolResultError(err.Error()), nil
	}
	return reg.handler(ctx, args)
}

// buildSchema reflects argsType into a JSON schema and compiles a validator
// for it. A nil argsType yields a permissive object schema.
func buildSchema(argsType any) (json.RawMessage, *santhosh.Schema, error) {
	var raw json.RawMessage
	if argsType == nil {
		raw = json.RawMessage(`{"type":"object"}`)
	} else {
		reflector := &invopop.Reflector{DoNotReference: true}
		schema := reflector.Reflect(argsType)
		schema.Version = ""
		b, err := json.Marshal(schema)
		if err != nil {
			return nil, nil, err
		}
		raw = b
	}

	doc, err := santhosh.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	compiler := santhosh.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, nil, err
	}
	validator, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, nil, err
	}
	return raw, validator, nil
}
