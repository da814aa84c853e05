package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/richinex/librarydesk/storage"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().
		Err(err).
		Str("request_id", RequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("Request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleChat runs one message through the agent. The user and assistant
// messages are appended to the transcript around the call.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	// A missing or malformed body reads as an empty message.
	_ = json.NewDecoder(r.Body).Decode(&req)

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	ctx := r.Context()
	if err := s.store.SaveMessage(ctx, sessionID, "user", message); err != nil {
		s.internalError(w, r, err)
		return
	}

	reply := s.agent.Respond(ctx, sessionID, message)

	if err := s.store.SaveMessage(ctx, sessionID, "assistant", reply.Text); err != nil {
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: reply.Text, SessionID: sessionID})
}

// handleListSessions lists transcript sessions plus live ones with no
// transcript yet.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := s.store.ListSessions(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	live, err := s.sessions.List(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range live {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.Create(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.SessionMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.store.ToolCalls(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": calls})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleOrderDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	details, err := s.store.OrderDetails(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
