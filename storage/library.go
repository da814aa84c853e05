package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/richinex/librarydesk/model"
)

// SearchFields are the only columns FindBooks may filter on.
var SearchFields = []string{"title", "author"}

func validSearchField(field string) bool {
	for _, f := range SearchFields {
		if f == field {
			return true
		}
	}
	return false
}

// FindBooks returns books whose field contains query.
// The field is interpolated into the statement only after it passed the
// allow-list check; the query value is always bound.
func (s *Store) FindBooks(ctx context.Context, field, query string) ([]model.Book, error) {
	if !validSearchField(field) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSearchField, field)
	}

	stmt := fmt.Sprintf("SELECT isbn, title, author, price, stock FROM books WHERE %s LIKE ? ORDER BY title", field)
	rows, err := s.db.QueryContext(ctx, stmt, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	books := []model.Book{}
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ISBN, &b.Title, &b.Author, &b.Price, &b.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}
	return books, nil
}

// GetBook returns a single book or ErrNotFound.
func (s *Store) GetBook(ctx context.Context, isbn string) (model.Book, error) {
	var b model.Book
	err := s.db.QueryRowContext(ctx,
		"SELECT isbn, title, author, price, stock FROM books WHERE isbn = ?", isbn).
		Scan(&b.ISBN, &b.Title, &b.Author, &b.Price, &b.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Book{}, fmt.Errorf("book %s: %w", isbn, ErrNotFound)
	}
	if err != nil {
		return model.Book{}, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

// CreateOrder inserts an order header, its lines and the matching stock
// decrements in one transaction. Any failing item rolls back the whole order
// and the returned error names the item position and ISBN.
func (s *Store) CreateOrder(ctx context.Context, customerID int64, items []model.OrderItemInput) (int64, error) {
	if len(items) == 0 {
		return 0, ErrEmptyOrder
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers WHERE id = ?", customerID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to look up customer: %w", err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("customer %d: %w", customerID, ErrNotFound)
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO orders (customer_id) VALUES (?)", customerID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read order id: %w", err)
	}

	for i, item := range items {
		if err := addOrderLine(ctx, tx, orderID, item); err != nil {
			return 0, fmt.Errorf("item %d (%s): %w", i+1, item.ISBN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return orderID, nil
}

func addOrderLine(ctx context.Context, tx *sql.Tx, orderID int64, item model.OrderItemInput) error {
	if item.ISBN == "" || item.Qty == nil {
		return ErrInvalidItem
	}
	qty := *item.Qty
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidItem)
	}

	var stock int
	err := tx.QueryRowContext(ctx, "SELECT stock FROM books WHERE isbn = ?", item.ISBN).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("book %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read stock: %w", err)
	}
	if stock < qty {
		return fmt.Errorf("%w: %d requested, %d available", ErrInsufficientStock, qty, stock)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO order_items (order_id, isbn, qty) VALUES (?, ?, ?)",
		orderID, item.ISBN, qty); err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE books SET stock = stock - ? WHERE isbn = ?",
		qty, item.ISBN); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

// Restock adds qty copies to a book's stock.
func (s *Store) Restock(ctx context.Context, isbn string, qty int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE books SET stock = stock + ? WHERE isbn = ?", qty, isbn)
	if err != nil {
		return fmt.Errorf("failed to restock book: %w", err)
	}
	return requireRow(res, "book "+isbn)
}

// UpdatePrice sets a book's price.
func (s *Store) UpdatePrice(ctx context.Context, isbn string, price float64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE books SET price = ? WHERE isbn = ?", price, isbn)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	return requireRow(res, "book "+isbn)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// OrderStatus returns the lines of an order joined with customer and titles.
// Returns an empty slice when the order does not exist.
func (s *Store) OrderStatus(ctx context.Context, orderID int64) ([]model.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, c.name, b.title, oi.qty
		FROM orders o
		JOIN customers c ON o.customer_id = c.id
		JOIN order_items oi ON o.id = oi.order_id
		JOIN books b ON oi.isbn = b.isbn
		WHERE o.id = ?`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	defer rows.Close()

	lines := []model.OrderLine{}
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.OrderID, &l.Customer, &l.Title, &l.Qty); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}
	return lines, nil
}

// LowStock returns books whose stock is below threshold.
func (s *Store) LowStock(ctx context.Context, threshold int) ([]model.LowStockBook, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT title, stock FROM books WHERE stock < ? ORDER BY stock, title", threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	books := []model.LowStockBook{}
	for rows.Next() {
		var b model.LowStockBook
		if err := rows.Scan(&b.Title, &b.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}
	return books, nil
}

// ListOrders returns every order, newest first, with its lines flattened
// into a "Title (xN), ..." string.
func (s *Store) ListOrders(ctx context.Context) ([]model.OrderSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			o.id,
			o.customer_id,
			c.name,
			c.email,
			o.created_at,
			GROUP_CONCAT(b.title || ' (x' || oi.qty || ')', ', ')
		FROM orders o
		JOIN customers c ON o.customer_id = c.id
		LEFT JOIN order_items oi ON o.id = oi.order_id
		LEFT JOIN books b ON oi.isbn = b.isbn
		GROUP BY o.id, o.customer_id, c.name, c.email, o.created_at
		ORDER BY o.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.OrderSummary{}
	for rows.Next() {
		var o model.OrderSummary
		var items sql.NullString
		if err := rows.Scan(&o.OrderID, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &o.CreatedAt, &items); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Items = "No items"
		if items.Valid && items.String != "" {
			o.Items = items.String
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// OrderDetails returns one order with priced lines and its total.
// Returns ErrNotFound if the order does not exist.
func (s *Store) OrderDetails(ctx context.Context, orderID int64) (model.OrderDetails, error) {
	var d model.OrderDetails
	err := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.customer_id, o.created_at, c.name, c.email
		FROM orders o
		JOIN customers c ON o.customer_id = c.id
		WHERE o.id = ?`, orderID).
		Scan(&d.OrderID, &d.CustomerID, &d.CreatedAt, &d.CustomerName, &d.CustomerEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OrderDetails{}, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return model.OrderDetails{}, fmt.Errorf("failed to get order: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.isbn, b.title, b.author, b.price, oi.qty, (b.price * oi.qty)
		FROM order_items oi
		JOIN books b ON oi.isbn = b.isbn
		WHERE oi.order_id = ?`, orderID)
	if err != nil {
		return model.OrderDetails{}, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	d.Items = []model.OrderDetailItem{}
	var total float64
	for rows.Next() {
		var it model.OrderDetailItem
		if err := rows.Scan(&it.ISBN, &it.Title, &it.Author, &it.Price, &it.Qty, &it.LineTotal); err != nil {
			return model.OrderDetails{}, fmt.Errorf("failed to scan order item: %w", err)
		}
		total += it.LineTotal
		d.Items = append(d.Items, it)
	}
	if err := rows.Err(); err != nil {
		return model.OrderDetails{}, fmt.Errorf("error iterating order items: %w", err)
	}

	d.Total = math.Round(total*100) / 100
	return d, nil
}
