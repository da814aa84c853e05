// Transcript and tool call log persistence.
//
// Information Hiding:
// - JSON encoding of tool arguments and results hidden
// - Ordering rules for transcript reads encapsulated

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richinex/librarydesk/model"
)

// TranscriptStorage persists the raw chat transcript shown to users.
// It is separate from the model context held by the session package.
type TranscriptStorage interface {
	// SaveMessage appends one message to a session's transcript.
	SaveMessage(ctx context.Context, sessionID, role, content string) error

	// SessionMessages returns a session's messages in chronological order.
	// Returns an empty slice (not nil) for unknown sessions.
	SessionMessages(ctx context.Context, sessionID string) ([]model.Message, error)

	// ListSessions lists all session ids that have transcript entries.
	ListSessions(ctx context.Context) ([]string, error)
}

// ToolCallStorage persists the append-only tool call log.
type ToolCallStorage interface {
	SaveToolCall(ctx context.Context, record model.ToolCallRecord) error
	ToolCalls(ctx context.Context, sessionID string) ([]model.ToolCallRecord, error)
}

// SaveMessage saves a chat message.
func (s *Store) SaveMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content) VALUES (?, ?, ?)",
		sessionID, role, content)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// SessionMessages retrieves all messages for a session.
func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{} // Start with empty slice, not nil
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// ListSessions lists distinct session ids, ordered alphabetically.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT session_id FROM messages ORDER BY session_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// SaveToolCall appends a tool call log entry.
func (s *Store) SaveToolCall(ctx context.Context, record model.ToolCallRecord) error {
	args := record.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	resultJSON, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO tool_calls (session_id, name, args_json, result_json, created_at) VALUES (?, ?, ?, ?, ?)",
		record.SessionID, record.ToolName, string(argsJSON), string(resultJSON),
		ts.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("failed to save tool call: %w", err)
	}
	return nil
}

// ToolCalls returns tool call log entries in insertion order.
// An empty sessionID returns entries for every session.
func (s *Store) ToolCalls(ctx context.Context, sessionID string) ([]model.ToolCallRecord, error) {
	query := `
		SELECT id, session_id, name, args_json, result_json, created_at
		FROM tool_calls`
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	records := []model.ToolCallRecord{}
	for rows.Next() {
		var r model.ToolCallRecord
		var argsJSON, resultJSON, createdAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ToolName, &argsJSON, &resultJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &r.Arguments); err != nil {
			return nil, fmt.Errorf("invalid args_json for tool call %d: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
			return nil, fmt.Errorf("invalid result_json for tool call %d: %w", r.ID, err)
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			r.Timestamp = ts
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool calls: %w", err)
	}
	return records, nil
}

// Verify Store implements all interfaces
var _ TranscriptStorage = (*Store)(nil)
var _ ToolCallStorage = (*Store)(nil)
