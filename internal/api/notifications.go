package api

import (
	"net/http"

	commonhttp "trades-marketplace/internal/common/http"
)

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	unread, err := queryBoolPtr(r, "unread")
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	limit, offset, err := limitOffset(r)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	items, err := s.services.Notifications.List(r.Context(), principal(r), unread != nil && *unread, limit, offset)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Notifications.MarkRead(r.Context(), principal(r), pathVar(r, "id")); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
