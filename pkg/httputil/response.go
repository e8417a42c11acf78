package httputil

import (
	"encoding/json"
	"net/http"
	"strings"
)

// APIPrefix is the path prefix of the JSON routes
const APIPrefix = "/api/"

const contentTypeJSON = "application/json"

// errorBody is the JSON shape of every API error
type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes v as the response body with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteErrorMessage writes {"error": message} with the given status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, errorBody{Error: message})
}

// WriteBadRequest writes a 400 with the given message
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteInternalError writes a generic 500. Error details stay in the logs.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WantsJSON reports whether an error for r should be rendered as JSON:
// either the route is under /api/ or the client asked for JSON explicitly.
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, APIPrefix) {
		return true
	}
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(accept), ";")
		if mediaType == contentTypeJSON {
			return true
		}
	}
	return false
}
