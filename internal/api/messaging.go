package api

import (
	"net/http"

	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/services/messaging"
)

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req messaging.StartRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	conv, created, err := s.services.Messaging.StartConversation(r.Context(), principal(r), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	commonhttp.WriteJSON(w, status, conv)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	items, err := s.services.Messaging.ListConversations(r.Context(), principal(r))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messaging.SendRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	msg, err := s.services.Messaging.Send(r.Context(), principal(r), pathVar(r, "id"), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, msg)
}

// listMessages pages backwards through a conversation with ?before=<RFC3339>&limit=.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	before, err := queryTimePtr(r, "before")
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	items, err := s.services.Messaging.ListMessages(r.Context(), principal(r), pathVar(r, "id"), before, limit)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) markConversationRead(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.services.Messaging.MarkRead(r.Context(), principal(r), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, receipt)
}
