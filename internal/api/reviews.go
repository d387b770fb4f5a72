package api

import (
	"net/http"

	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/services/reviews"
)

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var req reviews.CreateRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	review, err := s.services.Reviews.Create(r.Context(), principal(r), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, review)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := limitOffset(r)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	page, err := s.services.Reviews.List(r.Context(), pathVar(r, "id"), limit, offset)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) ratingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Reviews.Summary(r.Context(), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, summary)
}
