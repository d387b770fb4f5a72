package api

import (
	"context"
	"net/http"

	"trades-marketplace/internal/common/auth"
	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/applications"
	"trades-marketplace/internal/services/jobs"
)

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := limitOffset(r)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	page, err := s.services.Jobs.List(r.Context(), jobs.Filter{
		Status:   q.Get("status"),
		Trade:    q.Get("trade"),
		Location: q.Get("location"),
		HirerID:  q.Get("hirerId"),
		WorkerID: q.Get("workerId"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	job, err := s.services.Jobs.Create(r.Context(), principal(r), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.services.Jobs.Get(r.Context(), principal(r), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.UpdateRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	job, err := s.services.Jobs.Update(r.Context(), principal(r), pathVar(r, "id"), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, s.services.Jobs.Cancel)
}

func (s *Server) completeJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, s.services.Jobs.Complete)
}

type jobTransitionFunc func(ctx context.Context, actor auth.Principal, id string) (*models.Job, error)

func (s *Server) jobTransition(w http.ResponseWriter, r *http.Request, fn jobTransitionFunc) {
	job, err := fn(r.Context(), principal(r), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) listJobApplications(w http.ResponseWriter, r *http.Request) {
	items, err := s.services.Applications.ListForJob(r.Context(), principal(r), pathVar(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	var req applications.CreateRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	app, err := s.services.Applications.Apply(r.Context(), principal(r), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, app)
}

func (s *Server) listMyApplications(w http.ResponseWriter, r *http.Request) {
	items, err := s.services.Applications.ListMine(r.Context(), principal(r), r.URL.Query().Get("status"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) acceptApplication(w http.ResponseWriter, r *http.Request) {
	s.applicationDecision(w, r, s.services.Applications.Accept)
}

func (s *Server) rejectApplication(w http.ResponseWriter, r *http.Request) {
	s.applicationDecision(w, r, s.services.Applications.Reject)
}

func (s *Server) withdrawApplication(w http.ResponseWriter, r *http.Request) {
	s.applicationDecision(w, r, s.services.Applications.Withdraw)
}

type applicationDecisionFunc func(ctx context.Context, actor auth.Principal, id string) (*models.Application, error)

func (s *Server) applicationDecision(w http.ResponseWriter, r *http.Request, fn applicationDecisionFunc) {
	app, err := fn(r.Context(), principal(r), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, app)
}
