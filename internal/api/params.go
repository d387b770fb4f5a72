package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"trades-marketplace/internal/common/auth"
	apperrors "trades-marketplace/internal/common/errors"

	"github.com/gorilla/mux"
)

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return v, nil
}

func queryInt64Ptr(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return &v, nil
}

func queryFloatPtr(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s must be a number", name))
	}
	return &v, nil
}

func queryBoolPtr(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s must be true or false", name))
	}
	return &v, nil
}

func queryTimePtr(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s must be an RFC3339 timestamp", name))
	}
	return &v, nil
}

// limitOffset reads the common paging parameters.
func limitOffset(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
