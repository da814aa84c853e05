package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/librarydesk/model"
)

const (
	isbnCleanCode  = "9780132350884"
	isbnPragmatic  = "9780135957059"
	isbnModernCpp  = "9781491903995"
	isbnDesignPatt = "9780201633610"
)

func newSeededStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background()))
	return store
}

func qty(n int) *int { return &n }

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestFindBooksByTitle(t *testing.T) {
	store := newSeededStore(t)

	books, err := store.FindBooks(context.Background(), "title", "Clean Code")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, isbnCleanCode, books[0].ISBN)
	assert.Equal(t, "Robert C. Martin", books[0].Author)
}

func TestFindBooksByAuthorMatchesSubstring(t *testing.T) {
	store := newSeededStore(t)

	books, err := store.FindBooks(context.Background(), "author", "Martin")
	require.NoError(t, err)
	// Robert C. Martin twice, Martin Kleppmann once.
	assert.Len(t, books, 3)
}

func TestFindBooksRejectsUnknownField(t *testing.T) {
	store := newSeededStore(t)

	_, err := store.FindBooks(context.Background(), "isbn; DROP TABLE books", "x")
	require.ErrorIs(t, err, ErrInvalidSearchField)
	assert.Equal(t, 10, countRows(t, store, "books"))
}

func TestCreateOrderDecrementsStock(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	orderID, err := store.CreateOrder(ctx, 2, []model.OrderItemInput{
		{ISBN: isbnCleanCode, Qty: qty(3)},
		{ISBN: isbnModernCpp, Qty: qty(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), orderID)

	book, err := store.GetBook(ctx, isbnCleanCode)
	require.NoError(t, err)
	assert.Equal(t, 9, book.Stock)

	lines, err := store.OrderStatus(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Bob Smith", lines[0].Customer)
}

func TestCreateOrderRollsBackOnInsufficientStock(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()
	ordersBefore := countRows(t, store, "orders")
	itemsBefore := countRows(t, store, "order_items")

	_, err := store.CreateOrder(ctx, 1, []model.OrderItemInput{
		{ISBN: isbnCleanCode, Qty: qty(2)},
		{ISBN: isbnPragmatic, Qty: qty(999)},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "item 2 ("+isbnPragmatic+")")

	book, err := store.GetBook(ctx, isbnCleanCode)
	require.NoError(t, err)
	assert.Equal(t, 12, book.Stock, "first item's decrement must be rolled back")
	assert.Equal(t, ordersBefore, countRows(t, store, "orders"))
	assert.Equal(t, itemsBefore, countRows(t, store, "order_items"))
}

func TestCreateOrderRejectsUnknownBookAndCustomer(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	_, err := store.CreateOrder(ctx, 1, []model.OrderItemInput{{ISBN: "missing", Qty: qty(1)}})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.CreateOrder(ctx, 99, []model.OrderItemInput{{ISBN: isbnCleanCode, Qty: qty(1)}})
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 4, countRows(t, store, "orders"))
}

func TestCreateOrderValidatesItems(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	_, err := store.CreateOrder(ctx, 1, nil)
	require.ErrorIs(t, err, ErrEmptyOrder)

	_, err = store.CreateOrder(ctx, 1, []model.OrderItemInput{{ISBN: isbnCleanCode}})
	require.ErrorIs(t, err, ErrInvalidItem)

	_, err = store.CreateOrder(ctx, 1, []model.OrderItemInput{{ISBN: isbnCleanCode, Qty: qty(0)}})
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestRestockAndUpdatePrice(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, store.Restock(ctx, isbnPragmatic, 10))
	require.NoError(t, store.UpdatePrice(ctx, isbnModernCpp, 45))

	book, err := store.GetBook(ctx, isbnPragmatic)
	require.NoError(t, err)
	assert.Equal(t, 13, book.Stock)

	book, err = store.GetBook(ctx, isbnModernCpp)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, book.Price, 0.001)

	require.ErrorIs(t, store.Restock(ctx, "missing", 1), ErrNotFound)
	require.ErrorIs(t, store.UpdatePrice(ctx, "missing", 1), ErrNotFound)
}

func TestOrderStatusUnknownOrder(t *testing.T) {
	store := newSeededStore(t)

	lines, err := store.OrderStatus(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLowStock(t *testing.T) {
	store := newSeededStore(t)

	books, err := store.LowStock(context.Background(), 5)
	require.NoError(t, err)
	titles := make([]string, 0, len(books))
	for _, b := range books {
		titles = append(titles, b.Title)
	}
	assert.ElementsMatch(t, []string{
		"Domain-Driven Design", "Design Patterns", "The Pragmatic Programmer", "Introduction to Algorithms",
	}, titles)
}

func TestListOrdersAndDetails(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	orders, err := store.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 4)
	assert.Equal(t, int64(4), orders[0].OrderID, "newest first")
	assert.Equal(t, "Design Patterns (x3)", orders[0].Items)

	details, err := store.OrderDetails(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice Johnson", details.CustomerName)
	require.Len(t, details.Items, 2)
	assert.InDelta(t, 37.99+2*45.00, details.Total, 0.001)

	_, err = store.OrderDetails(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTranscriptRoundTrip(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveMessage(ctx, "s2", "user", "hi"))
	require.NoError(t, store.SaveMessage(ctx, "s1", "user", "Hello"))
	require.NoError(t, store.SaveMessage(ctx, "s1", "assistant", "Hi there"))

	msgs, err := store.SessionMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, sessions)

	empty, err := store.SessionMessages(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestToolCallLog(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveToolCall(ctx, model.ToolCallRecord{
		SessionID: "s1",
		ToolName:  "find_books",
		Arguments: map[string]any{"q": "Clean", "by": "title"},
		Result:    map[string]any{"count": 1},
	}))
	require.NoError(t, store.SaveToolCall(ctx, model.ToolCallRecord{
		SessionID: "s2",
		ToolName:  "restock_book",
		Result:    map[string]any{"error": "Quantity must be positive"},
	}))

	records, err := store.ToolCalls(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "find_books", records[0].ToolName)
	assert.Equal(t, "Clean", records[0].Arguments["q"])
	assert.InDelta(t, 1.0, records[0].Result["count"], 0.001)

	all, err := store.ToolCalls(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Empty(t, all[1].Arguments)
}

func TestResetClearsData(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx))
	assert.Equal(t, 0, countRows(t, store, "books"))
	require.NoError(t, store.Seed(ctx))
	assert.Equal(t, 6, countRows(t, store, "customers"))
}
