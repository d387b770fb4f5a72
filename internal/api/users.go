package api

import (
	"net/http"

	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/services/users"
)

type passwordStrengthRequest struct {
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req users.RegisterRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	token, err := s.services.Users.Register(r.Context(), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, token)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req users.LoginRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	token, err := s.services.Users.Login(r.Context(), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, token)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Users.Logout(r.Context(), principal(r)); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) passwordStrength(w http.ResponseWriter, r *http.Request) {
	var req passwordStrengthRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, s.services.Users.PasswordStrength(req.Password, req.Email))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, err := s.services.Users.Get(r.Context(), principal(r).UserID)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, user)
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	var update users.ProfileUpdate
	if err := commonhttp.DecodeJSON(w, r, &update); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	user, err := s.services.Users.UpdateProfile(r.Context(), principal(r).UserID, update)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, user)
}

// getUser returns the public profile; contact details are only visible to the owner.
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.services.Users.GetPublic(r.Context(), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, user)
}
