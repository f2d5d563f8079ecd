package api

import (
	"net/http"
	"strconv"

	"campus/pkg/types"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

type ChatMessagesResponse struct {
	Messages []*types.ChatMessage `json:"messages"`
}

// GET /api/chat/messages?limit=N returns the most recent chat log, oldest first.
func (s *Server) chatMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessageLimit)
	}

	messages, err := s.store.RecentMessages(r.Context(), limit)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	s.writeJSON(w, http.StatusOK, ChatMessagesResponse{Messages: messages})
}
