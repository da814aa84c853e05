// Package storage provides the SQLite-backed library store.
//
// Information Hiding:
// - SQLite connection management hidden behind Store
// - Schema and seed details encapsulated
// - Multi-row writes run inside a single transaction

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the transactional store backing the library tools, the chat
// transcript and the tool call log.
// All access goes through one pooled connection so SQLite never reports
// "database is locked" between the agent and the call log writer.
type Store struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return open(fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*Store, error) {
	return open(":memory:?_foreign_keys=on")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.CreateSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchema creates all tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS books (
			isbn TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			price REAL NOT NULL,
			stock INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		);

		CREATE TABLE IF NOT EXISTS order_items (
			order_id INTEGER NOT NULL,
			isbn TEXT NOT NULL,
			qty INTEGER NOT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(id),
			FOREIGN KEY (isbn) REFERENCES books(isbn)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			args_json TEXT NOT NULL,
			result_json TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_session
		ON tool_calls(session_id, created_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Reset drops every table and recreates the schema.
func (s *Store) Reset(ctx context.Context) error {
	drop := `
		DROP TABLE IF EXISTS order_items;
		DROP TABLE IF EXISTS orders;
		DROP TABLE IF EXISTS tool_calls;
		DROP TABLE IF EXISTS messages;
		DROP TABLE IF EXISTS customers;
		DROP TABLE IF EXISTS books;
	`
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	return s.CreateSchema(ctx)
}

// Seed inserts the demo catalogue: 10 books, 6 customers and 4 orders.
func (s *Store) Seed(ctx context.Context) error {
	seed := `
		INSERT INTO books (isbn, title, author, price, stock) VALUES
			('9780132350884', 'Clean Code', 'Robert C. Martin', 37.99, 12),
			('9780135957059', 'The Pragmatic Programmer', 'David Thomas, Andrew Hunt', 42.50, 3),
			('9781491903995', 'Effective Modern C++', 'Scott Meyers', 39.99, 7),
			('9780201633610', 'Design Patterns', 'Erich Gamma et al.', 54.99, 2),
			('9780134685991', 'Effective Java', 'Joshua Bloch', 45.00, 9),
			('9780262033848', 'Introduction to Algorithms', 'Thomas H. Cormen', 89.95, 4),
			('9780596007126', 'Head First Design Patterns', 'Eric Freeman', 44.95, 6),
			('9780321125217', 'Domain-Driven Design', 'Eric Evans', 59.99, 1),
			('9780134494166', 'Clean Architecture', 'Robert C. Martin', 34.99, 8),
			('9781449373320', 'Designing Data-Intensive Applications', 'Martin Kleppmann', 49.99, 15);

		INSERT INTO customers (id, name, email) VALUES
			(1, 'Alice Johnson', 'alice@example.com'),
			(2, 'Bob Smith', 'bob@example.com'),
			(3, 'Carol White', 'carol@example.com'),
			(4, 'David Brown', 'david@example.com'),
			(5, 'Eve Davis', 'eve@example.com'),
			(6, 'Frank Miller', 'frank@example.com');

		INSERT INTO orders (id, customer_id) VALUES (1, 1), (2, 2), (3, 3), (4, 4);

		INSERT INTO order_items (order_id, isbn, qty) VALUES
			(1, '9780132350884', 1),
			(1, '9780134685991', 2),
			(2, '9780135957059', 1),
			(3, '9781491903995', 1),
			(3, '9781449373320', 1),
			(4, '9780201633610', 3);
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, seed); err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
