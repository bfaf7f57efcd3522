// Package tools implements the tool registry consumed by the brain's
// tool-call loop: named tools with LLM-facing JSON-schema definitions, a
// dispatch contract that always returns a structured result string, and the
// function-style manifest handed to LLM providers.
//
// Execution failures (unknown tool, malformed arguments, handler error) are
// encoded as structured JSON results rather than Go errors, so the LLM can
// observe the failure and recover on its next iteration. A tool call never
// aborts a turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tanklabs/tankd/pkg/types"
)

// Tool is one registered tool: its LLM-facing schema plus the handler that
// runs when the LLM calls it.
type Tool struct {
	// Definition is the tool's schema: name, description, and JSON Schema
	// parameter specification.
	Definition types.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result string on success, or a descriptive error.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// Param describes one tool parameter. Schema builds the JSON-schema
// Parameters object from an ordered Param list so built-in tools don't
// hand-write nested maps.
type Param struct {
	// Name is the parameter name.
	Name string

	// Type is the JSON-schema type tag ("string", "number", "boolean", …).
	Type string

	// Description explains the parameter to the LLM.
	Description string

	// Required marks the parameter as mandatory.
	Required bool

	// Enum optionally restricts the value to a fixed set.
	Enum []string
}

// Schema builds a JSON-schema object declaration from the given parameters.
func Schema(params ...Param) map[string]any {
	properties := map[string]any{}
	var required []string
	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Registry is a concurrency-safe, name-keyed tool collection.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // registration order, for stable manifests
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Returns an error on an empty or duplicate name.
func (r *Registry) Register(t Tool) error {
	name := t.Definition.Name
	if name == "" {
		return fmt.Errorf("tools: tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: tool %q is already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first error.
func (r *Registry) RegisterAll(ts []Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Definitions returns the tool definitions in registration order, as passed
// to llm.CompletionRequest.Tools.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// manifestEntry is one function descriptor in the manifest.
type manifestEntry struct {
	Type     string           `json:"type"`
	Function manifestFunction `json:"function"`
}

type manifestFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Manifest renders the registry as JSON function descriptors:
//
//	[{"type":"function","function":{"name":...,"description":...,"parameters":{...}}}]
func (r *Registry) Manifest() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]manifestEntry, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Definition
		entries = append(entries, manifestEntry{
			Type: "function",
			Function: manifestFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return json.Marshal(entries)
}

// executionError is the structured result returned to the LLM when a tool
// call fails.
type executionError struct {
	Error      string   `json:"error"`
	ToolName   string   `json:"tool_name,omitempty"`
	Parameters string   `json:"parameters,omitempty"`
	Available  []string `json:"available_tools,omitempty"`
}

// Execute dispatches a tool invocation and always returns a result string
// suitable for a tool-role message. Failures are encoded as structured JSON;
// the boolean reports success so callers can annotate the status.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) (string, bool) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return encodeError(executionError{
			Error:     fmt.Sprintf("unknown tool %q", call.Name),
			ToolName:  call.Name,
			Available: r.Names(),
		}), false
	}

	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return encodeError(executionError{
			Error:      "arguments are not valid JSON",
			ToolName:   call.Name,
			Parameters: call.Arguments,
		}), false
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		return encodeError(executionError{
			Error:      err.Error(),
			ToolName:   call.Name,
			Parameters: args,
		}), false
	}
	return result, true
}

// encodeError marshals an executionError; marshal failure cannot occur for
// this shape, but fall back to a plain string anyway.
func encodeError(e executionError) string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"error":"internal tool dispatch failure"}`
	}
	return string(b)
}
