// Package api holds the helpers shared by the HTTP handler packages:
// JSON responses, bearer-token extraction, and the mapping of domain
// errors onto HTTP status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError maps a domain error onto its HTTP status and writes a JSON
// error body.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), errorBody{Error: err.Error()})
}

// StatusFor maps the domain error taxonomy onto HTTP statuses. Guard
// failures of the ceremony are client errors; engine-side failures are
// server errors.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrAlreadyDone),
		errors.Is(err, interfaces.ErrDuplicatePrincipal):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrSetupRequired),
		errors.Is(err, interfaces.ErrNoAuthorities),
		errors.Is(err, interfaces.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", interfaces.ErrUnauthorized
	}
	return token, nil
}
