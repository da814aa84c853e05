// Package tools provides tool management and lookup.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Construction of the fixed tool set hidden
// - No registration API: the set is closed after construction

package tools

import (
	"fmt"

	"github.com/richinex/librarydesk/llm"
)

// DefaultLowStockThreshold is the stock level below which a book counts as low.
const DefaultLowStockThreshold = 5

// Config configures the library tools.
// The zero value is safe: threshold defaults to DefaultLowStockThreshold.
type Config struct {
	LowStockThreshold int
}

func (c Config) threshold() int {
	if c.LowStockThreshold <= 0 {
		return DefaultLowStockThreshold
	}
	return c.LowStockThreshold
}

// Registry holds the six library tools. It is immutable and safe for
// concurrent use.
type Registry struct {
	tools map[Name]Tool
	order []Name
}

// NewLibraryRegistry builds the registry from the fixed tool set.
func NewLibraryRegistry(store LibraryStore, cfg Config) (*Registry, error) {
	r := &Registry{
		tools: make(map[Name]Tool, len(AllNames)),
		order: make([]Name, 0, len(AllNames)),
	}
	for _, name := range AllNames {
		tool, err := newTool(name, store, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build tool %s: %w", name, err)
		}
		r.tools[name] = tool
		r.order = append(r.order, name)
	}
	return r, nil
}

// newTool maps every Name to its constructor.
func newTool(name Name, store LibraryStore, cfg Config) (Tool, error) {
	switch name {
	case FindBooks:
		return NewFindBooksTool(store)
	case CreateOrder:
		return NewCreateOrderTool(store)
	case RestockBook:
		return NewRestockBookTool(store)
	case UpdatePrice:
		return NewUpdatePriceTool(store)
	case OrderStatus:
		return NewOrderStatusTool(store)
	case InventorySummary:
		return NewInventorySummaryTool(store, cfg.threshold())
	default:
		return nil, fmt.Errorf("no constructor for tool %q", name)
	}
}

// Lookup returns a tool by its wire name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[Name(name)]
	return tool, ok
}

// Names returns all tool names in declaration order.
func (r *Registry) Names() []Name {
	names := make([]Name, len(r.order))
	copy(names, r.order)
	return names
}

// List returns metadata for all tools in declaration order.
func (r *Registry) List() []ToolMetadata {
	metadata := make([]ToolMetadata, 0, len(r.order))
	for _, name := range r.order {
		metadata = append(metadata, r.tools[name].Metadata())
	}
	return metadata
}

// Definitions returns the tool declarations advertised to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Metadata().Definition())
	}
	return defs
}
