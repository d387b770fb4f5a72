package api

import (
	"net/http"

	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/services/admin"
)

func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := limitOffset(r)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	suspended, err := queryBoolPtr(r, "suspended")
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	page, err := s.services.Admin.ListUsers(r.Context(), admin.UserFilter{
		Role:      r.URL.Query().Get("role"),
		Suspended: suspended,
		Q:         r.URL.Query().Get("q"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) adminSuspend(w http.ResponseWriter, r *http.Request) {
	var req admin.ModerationRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	user, err := s.services.Admin.Suspend(r.Context(), principal(r), pathVar(r, "id"), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, user)
}

func (s *Server) adminUnsuspend(w http.ResponseWriter, r *http.Request) {
	var req admin.ModerationRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	user, err := s.services.Admin.Unsuspend(r.Context(), principal(r), pathVar(r, "id"), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, user)
}

func (s *Server) adminRemoveJob(w http.ResponseWriter, r *http.Request) {
	var req admin.ModerationRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	job, err := s.services.Admin.RemoveJob(r.Context(), principal(r), pathVar(r, "id"), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Admin.Stats(r.Context())
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) adminAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := limitOffset(r)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	page, err := s.services.Admin.AuditLog(r.Context(), admin.AuditFilter{
		ResourceType: r.URL.Query().Get("resourceType"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, page)
}
