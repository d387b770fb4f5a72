package api

import (
	"net/http"

	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/services/search"
)

func (s *Server) searchJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := search.JobQuery{
		Q:        q.Get("q"),
		Trade:    q.Get("trade"),
		Location: q.Get("location"),
	}

	var err error
	if query.MinBudget, err = queryInt64Ptr(r, "minBudget"); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	if query.MaxBudget, err = queryInt64Ptr(r, "maxBudget"); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	if query.Page, query.Size, err = pageSize(r); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	result, err := s.services.Search.SearchJobs(r.Context(), query)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) searchWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := search.WorkerQuery{
		Q:        q.Get("q"),
		Trade:    q.Get("trade"),
		Location: q.Get("location"),
	}

	var err error
	if query.MinRating, err = queryFloatPtr(r, "minRating"); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	if query.Page, query.Size, err = pageSize(r); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	result, err := s.services.Search.SearchWorkers(r.Context(), query)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, result)
}

func pageSize(r *http.Request) (int, int, error) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}
