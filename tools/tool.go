// Package tools provides the fixed set of library desk tools.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Tool parameters and schemas hidden in implementations
// - Argument validation internalized per tool
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richinex/librarydesk/llm"
)

// Name identifies one of the library tools. The set is closed.
type Name string

// The six library tools.
const (
	FindBooks        Name = "find_books"
	CreateOrder      Name = "create_order"
	RestockBook      Name = "restock_book"
	UpdatePrice      Name = "update_price"
	OrderStatus      Name = "order_status"
	InventorySummary Name = "inventory_summary"
)

// AllNames lists every tool in declaration order.
var AllNames = []Name{FindBooks, CreateOrder, RestockBook, UpdatePrice, OrderStatus, InventorySummary}

// ToolParameter defines a parameter schema for a tool.
type ToolParameter struct {
	Name        string          `json:"name"`
	ParamType   string          `json:"param_type"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required"`
	Enum        []string        `json:"enum,omitempty"`
	Items       *ToolParameter  `json:"items,omitempty"`      // Element schema for arrays
	Properties  []ToolParameter `json:"properties,omitempty"` // Fields for objects
}

// ToolMetadata describes what a tool does and how to use it.
type ToolMetadata struct {
	Name        Name            `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// String returns a string representation of the tool metadata.
func (m ToolMetadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// Schema renders the parameters as a JSON schema object for the model.
func (m ToolMetadata) Schema() map[string]any {
	return objectSchema(m.Parameters, true)
}

// Definition renders the tool declaration sent to the model.
func (m ToolMetadata) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        string(m.Name),
		Description: m.Description,
		Parameters:  m.Schema(),
	}
}

// validationSchema is the schema used for argument checks. Enums are left
// out: tools decide themselves how to treat out-of-range values.
func (m ToolMetadata) validationSchema() map[string]any {
	return objectSchema(m.Parameters, false)
}

func objectSchema(params []ToolParameter, withEnum bool) map[string]any {
	properties := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		properties[p.Name] = paramSchema(p, withEnum)
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

func paramSchema(p ToolParameter, withEnum bool) map[string]any {
	var schema map[string]any
	switch p.ParamType {
	case "object":
		schema = objectSchema(p.Properties, withEnum)
	case "array":
		schema = map[string]any{"type": "array"}
		if p.Items != nil {
			schema["items"] = paramSchema(*p.Items, withEnum)
		}
	default:
		schema = map[string]any{"type": p.ParamType}
	}

	if p.Description != "" {
		schema["description"] = p.Description
	}
	if withEnum && len(p.Enum) > 0 {
		schema["enum"] = p.Enum
	}
	return schema
}

// Tool is the interface that all tools must implement.
//
// Execute returns a plain Go value (slice, map, struct or scalar); the
// executor normalizes it into the envelope sent back to the model.
type Tool interface {
	// Metadata returns tool metadata (name, description, parameters).
	Metadata() ToolMetadata

	// Execute runs the tool with given arguments.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}
