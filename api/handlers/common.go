package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"merchant-guard/core/decision"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

type denialBody struct {
	Error string `json:"error"`
	decision.Payload
}

// WriteDecision renders a denied decision. 429 responses carry Retry-After.
func WriteDecision(w http.ResponseWriter, d decision.Decision) {
	if d.Reason == decision.ReasonRateLimited && d.Payload.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.Payload.RetryAfter))
	}
	writeJSON(w, d.Status, denialBody{Error: string(d.Reason), Payload: d.Payload})
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
