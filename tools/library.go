// Library desk tools.
//
// Information Hiding:
// - Store access hidden behind LibraryStore
// - Argument decoding and domain checks internalized per tool

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/richinex/librarydesk/model"
	"github.com/richinex/librarydesk/storage"
)

// LibraryStore is the subset of the store the tools touch.
type LibraryStore interface {
	FindBooks(ctx context.Context, field, query string) ([]model.Book, error)
	CreateOrder(ctx context.Context, customerID int64, items []model.OrderItemInput) (int64, error)
	Restock(ctx context.Context, isbn string, qty int) error
	UpdatePrice(ctx context.Context, isbn string, price float64) error
	OrderStatus(ctx context.Context, orderID int64) ([]model.OrderLine, error)
	LowStock(ctx context.Context, threshold int) ([]model.LowStockBook, error)
}

var _ LibraryStore = (*storage.Store)(nil)

// Domain errors surfaced to the model.
var (
	ErrEmptyOrder       = errors.New("Order must contain at least one item")
	ErrQuantityPositive = errors.New("Quantity must be positive")
	ErrPricePositive    = errors.New("Price must be positive")
)

// orderNotFound is returned as a successful result, not an error.
var orderNotFound = map[string]any{"error": "Order not found"}

// baseTool carries metadata and the compiled argument schema.
type baseTool struct {
	meta   ToolMetadata
	schema *gojsonschema.Schema
}

func newBaseTool(meta ToolMetadata) (baseTool, error) {
	schema, err := compileSchema(meta)
	if err != nil {
		return baseTool{}, err
	}
	return baseTool{meta: meta, schema: schema}, nil
}

// Metadata returns tool metadata.
func (t baseTool) Metadata() ToolMetadata {
	return t.meta
}

func (t baseTool) decode(args json.RawMessage, v any) error {
	return decodeArgs(t.schema, args, v)
}

// ============================================================================
// find_books
// ============================================================================

// FindBooksTool searches books by title or author substring.
type FindBooksTool struct {
	baseTool
	store LibraryStore
}

// NewFindBooksTool creates the find_books tool.
func NewFindBooksTool(store LibraryStore) (*FindBooksTool, error) {
	base, err := newBaseTool(ToolMetadata{
		Name:        FindBooks,
		Description: "Find books by title or author. Returns a list of matching books with ISBN, title, author, price, and stock.",
		Parameters: []ToolParameter{
			{Name: "q", ParamType: "string", Description: "Search query string", Required: true},
			{Name: "by", ParamType: "string", Description: "Search by 'title' or 'author'", Required: true, Enum: storage.SearchFields},
		},
	})
	if err != nil {
		return nil, err
	}
	return &FindBooksTool{baseTool: base, store: store}, nil
}

// Execute runs the search. An unsupported field yields no matches.
func (t *FindBooksTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Q  string `json:"q"`
		By string `json:"by"`
	}
	if err := t.decode(args, &params); err != nil {
		return nil, err
	}

	books, err := t.store.FindBooks(ctx, params.By, params.Q)
	if errors.Is(err, storage.ErrInvalidSearchField) {
		return []model.Book{}, nil
	}
	if err != nil {
		return nil, err
	}
	return books, nil
}

// ============================================================================
// create_order
// ============================================================================

// CreateOrderTool places an order and decrements stock atomically.
type CreateOrderTool struct {
	baseTool
	store LibraryStore
}

// NewCreateOrderTool creates the create_order tool.
func NewCreateOrderTool(store LibraryStore) (*CreateOrderTool, error) {
	base, err := newBaseTool(ToolMetadata{
		Name:        CreateOrder,
		Description: "Create a new order for a customer and reduce book stock. Returns order_id and status.",
		Parameters: []ToolParameter{
			{Name: "customer_id", ParamType: "integer", Description: "Customer ID", Required: true},
			{
				Name: "items", ParamType: "array", Description: "List of order items", Required: true,
				Items: &ToolParameter{
					Name: "item", ParamType: "object",
					Properties: []ToolParameter{
						{Name: "isbn", ParamType: "string", Description: "Book ISBN", Required: true},
						{Name: "qty", ParamType: "integer", Description: "Quantity", Required: true},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &CreateOrderTool{baseTool: base, store: store}, nil
}

// Execute creates the order.
func (t *CreateOrderTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		CustomerID int64                  `json:"customer_id"`
		Items      []model.OrderItemInput `json:"items"`
	}
	if err := t.decode(args, &params); err != nil {
		return nil, err
	}
	if len(params.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	orderID, err := t.store.CreateOrder(ctx, params.CustomerID, params.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return map[string]any{"order_id": orderID, "status": "created"}, nil
}

// ============================================================================
// restock_book
// ============================================================================

// RestockBookTool increases a book's stock.
type RestockBookTool struct {
	baseTool
	store LibraryStore
}

// NewRestockBookTool creates the restock_book tool.
func NewRestockBookTool(store LibraryStore) (*RestockBookTool, error) {
	base, err := newBaseTool(ToolMetadata{
		Name:        RestockBook,
		Description: "Increase book stock by a specified quantity. Returns ISBN and quantity added.",
		Parameters: []ToolParameter{
			{Name: "isbn", ParamType: "string", Description: "Book ISBN", Required: true},
			{Name: "qty", ParamType: "integer", Description: "Quantity to add to stock", Required: true},
		},
	})
	if err != nil {
		return nil, err
	}
	return &RestockBookTool{baseTool: base, store: store}, nil
}

// Execute adds qty copies. Non-positive quantities never reach the store.
func (t *RestockBookTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		ISBN string `json:"isbn"`
		Qty  int    `json:"qty"`
	}
	if err := t.decode(args, &params); err != nil {
		return nil, err
	}
	if params.Qty <= 0 {
		return nil, ErrQuantityPositive
	}

	if err := t.store.Restock(ctx, params.ISBN, params.Qty); err != nil {
		return nil, fmt.Errorf("failed to restock %s: %w", params.ISBN, err)
	}
	return map[string]any{"isbn": params.ISBN, "added": params.Qty}, nil
}

// ============================================================================
// update_price
// ============================================================================

// UpdatePriceTool sets a book's price.
type UpdatePriceTool struct {
	baseTool
	store LibraryStore
}

// NewUpdatePriceTool creates the update_price tool.
func NewUpdatePriceTool(store LibraryStore) (*UpdatePriceTool, error) {
	base, err := newBaseTool(ToolMetadata{
		Name:        UpdatePrice,
		Description: "Update the price of a book. Returns ISBN and new price.",
		Parameters: []ToolParameter{
			{Name: "isbn", ParamType: "string", Description: "Book ISBN", Required: true},
			{Name: "price", ParamType: "number", Description: "New price", Required: true},
		},
	})
	if err != nil {
		return nil, err
	}
	return &UpdatePriceTool{baseTool: base, store: store}, nil
}

// Execute updates the price.
func (t *UpdatePriceTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		ISBN  string  `json:"isbn"`
		Price float64 `json:"price"`
	}
	if err := t.decode(args, &params); err != nil {
		return nil, err
	}
	if params.Price <= 0 {
		return nil, ErrPricePositive
	}

	if err := t.store.UpdatePrice(ctx, params.ISBN, params.Price); err != nil {
		return nil, fmt.Errorf("failed to update price of %s: %w", params.ISBN, err)
	}
	return map[string]any{"isbn": params.ISBN, "new_price": params.Price}, nil
}

// ============================================================================
// order_status
// ============================================================================

// OrderStatusTool reports the lines of one order.
type OrderStatusTool struct {
	baseTool
	store LibraryStore
}

// NewOrderStatusTool creates the order_status tool.
func NewOrderStatusTool(store LibraryStore) (*OrderStatusTool, error) {
	base, err := newBaseTool(ToolMetadata{
		Name:        OrderStatus,
		Description: "Get order details including customer name, book titles, and quantities. Returns order information or error if not found.",
		Parameters: []ToolParameter{
			{Name: "order_id", ParamType: "integer", Description: "Order ID", Required: true},
		},
	})
	if err != nil {
		return nil, err
	}
	return &OrderStatusTool{baseTool: base, store: store}, nil
}

// Execute looks the order up. A missing order is a result, not a failure.
func (t *OrderStatusTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		OrderID int64 `json:"order_id"`
	}
	if err := t.decode(args, &params); err != nil {
		return nil, err
	}

	lines, err := t.store.OrderStatus(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return orderNotFound, nil
	}
	return lines, nil
}

// ============================================================================
// inventory_summary
// ============================================================================

// InventorySummaryTool lists books running low.
type InventorySummaryTool struct {
	baseTool
	store     LibraryStore
	threshold int
}

// NewInventorySummaryTool creates the inventory_summary tool.
func NewInventorySummaryTool(store LibraryStore, threshold int) (*InventorySummaryTool, error) {
	base, err := newBaseTool(ToolMetadata{
		Name:        InventorySummary,
		Description: fmt.Sprintf("List all books with low stock (stock < %d). Returns list of books with title and stock.", threshold),
		Parameters:  []ToolParameter{},
	})
	if err != nil {
		return nil, err
	}
	return &InventorySummaryTool{baseTool: base, store: store, threshold: threshold}, nil
}

// Execute returns every book whose stock is below the threshold.
func (t *InventorySummaryTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct{}
	if err := t.decode(args, &params); err != nil {
		return nil, err
	}
	return t.store.LowStock(ctx, t.threshold)
}
