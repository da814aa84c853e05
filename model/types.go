// Package model provides domain types shared across packages.
package model

import "time"

// Book is a row of the books table.
type Book struct {
	ISBN   string  `json:"isbn"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Price  float64 `json:"price"`
	Stock  int     `json:"stock"`
}

// Customer is a row of the customers table.
type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OrderItemInput is one requested line of a new order.
type OrderItemInput struct {
	ISBN string `json:"isbn"`
	Qty  *int   `json:"qty"`
}

// OrderLine is one line of an order as reported by order_status.
type OrderLine struct {
	OrderID  int64  `json:"order_id"`
	Customer string `json:"customer"`
	Title    string `json:"title"`
	Qty      int    `json:"qty"`
}

// LowStockBook is a book reported by the inventory summary.
type LowStockBook struct {
	Title string `json:"title"`
	Stock int    `json:"stock"`
}

// OrderSummary is one entry of the order listing.
type OrderSummary struct {
	OrderID       int64  `json:"order_id"`
	CustomerID    int64  `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CreatedAt     string `json:"created_at"`
	Items         string `json:"items"`
}

// OrderDetailItem is a priced line of an order.
type OrderDetailItem struct {
	ISBN      string  `json:"isbn"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Price     float64 `json:"price"`
	Qty       int     `json:"qty"`
	LineTotal float64 `json:"line_total"`
}

// OrderDetails is a full order with customer and priced lines.
type OrderDetails struct {
	OrderID       int64             `json:"order_id"`
	CustomerID    int64             `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	CreatedAt     string            `json:"created_at"`
	Items         []OrderDetailItem `json:"items"`
	Total         float64           `json:"total"`
}

// Message is a persisted transcript entry.
type Message struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ToolCallRecord is an append-only audit entry for one tool invocation.
type ToolCallRecord struct {
	ID        int64          `json:"id,omitempty"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"name"`
	Arguments map[string]any `json:"args"`
	Result    map[string]any `json:"result"`
	Timestamp time.Time      `json:"created_at"`
}

// ToolCall contains metrics about a tool invocation.
type ToolCall struct {
	Name       string `json:"name"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}
