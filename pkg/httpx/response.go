// Package httpx holds small HTTP helpers shared by every handler:
// JSON responses, middleware chaining and per client rate limiting.
package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON response with the given status code.
// Encoding failures are swallowed; headers are already on the wire by
// the time they can occur.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache sets the response headers required on token endpoint
// responses so intermediaries never cache credentials.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
