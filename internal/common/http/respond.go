package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "trades-marketplace/internal/common/errors"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err onto the uniform error envelope. Internal details never leave the server.
func WriteError(w http.ResponseWriter, err error) {
	stdErr := apperrors.Normalize(err)
	status := apperrors.HTTPStatus(stdErr.Code)

	payload := errorPayload{
		Code:     string(stdErr.Code),
		Message:  stdErr.Message,
		Metadata: stdErr.Metadata,
	}
	if status < http.StatusInternalServerError {
		payload.Details = stdErr.Details
	}

	if seconds, ok := stdErr.Metadata["retryAfterSeconds"].(int); ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}
	WriteJSON(w, status, errorBody{Error: payload})
}

// DecodeJSON reads a JSON body into dst, rejecting unknown fields, trailing data and bodies over 1 MiB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return apperrors.NewValidationError("Content-Type must be application/json")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperrors.NewValidationError("request body is empty")
		case errors.As(err, &maxErr):
			return apperrors.NewValidationError("request body too large")
		default:
			return apperrors.NewValidationError(fmt.Sprintf("malformed JSON: %v", err))
		}
	}

	if dec.More() {
		return apperrors.NewValidationError("request body must contain a single JSON object")
	}
	return nil
}
