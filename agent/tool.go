package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"pharmachat/llm"
)

// Tool defines the interface for agent tools.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// FuncTool wraps a plain function as a Tool.
type FuncTool struct {
	ToolName   string
	ToolDesc   string
	ToolParams map[string]any
	Fn         func(ctx context.Context, args map[string]any) (string, error)
}

func (f *FuncTool) Name() string               { return f.ToolName }
func (f *FuncTool) Description() string        { return f.ToolDesc }
func (f *FuncTool) Parameters() map[string]any { return f.ToolParams }
func (f *FuncTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.Fn(ctx, args)
}

// TypedHandler handles decoded tool input.
type TypedHandler[T any] func(ctx context.Context, input T) (string, error)

// NewTool builds a Tool whose JSON schema is reflected from T. Arguments are
// decoded into T before fn runs; decoding failures surface as
// *InvalidArgumentsError.
func NewTool[T any](name, description string, fn TypedHandler[T]) Tool {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var zero T
	schema := reflector.Reflect(zero)

	params := map[string]any{
		"type":       "object",
		"properties": schema.Properties,
	}
	if len(schema.Required) > 0 {
		params["required"] = schema.Required
	}
	params = plainSchema(params)
	required := append([]string(nil), schema.Required...)

	return &FuncTool{
		ToolName:   name,
		ToolDesc:   description,
		ToolParams: params,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			input, err := decodeInput[T](args, required)
			if err != nil {
				return "", &InvalidArgumentsError{Tool: name, Err: err}
			}
			return fn(ctx, input)
		},
	}
}

func decodeInput[T any](args map[string]any, required []string) (T, error) {
	var input T
	for _, key := range required {
		if _, ok := args[key]; !ok {
			return input, fmt.Errorf("missing required field %q", key)
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return input, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return input, err
	}
	return input, nil
}

// plainSchema round-trips a schema through JSON so providers receive plain
// maps instead of the reflector's ordered types.
func plainSchema(schema map[string]any) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return schema
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema
	}
	return out
}

// ToolRegistry is an immutable set of named tools, built once at startup and
// safe for concurrent use.
type ToolRegistry struct {
	tools map[string]Tool
	names []string
}

// NewToolRegistry creates a registry. Empty or duplicate names are an error.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.tools[name] = t
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all tool names, sorted.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.names) }

// Schemas returns the model-facing descriptions, sorted by name.
func (r *ToolRegistry) Schemas() []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}
