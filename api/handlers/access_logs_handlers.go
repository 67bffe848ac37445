package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"merchant-guard/core/auth"
	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

const (
	defaultAttemptsLimit = 100
	maxAttemptsLimit     = 1000
)

type AccessLogsHandler struct {
	attempts store.AccessAttemptsStore
	logger   *utils.Logger
}

func NewAccessLogsHandler(attempts store.AccessAttemptsStore, logger *utils.Logger) *AccessLogsHandler {
	return &AccessLogsHandler{attempts: attempts, logger: logger}
}

func (h *AccessLogsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AttemptFilter{
		AccountID: strings.TrimSpace(q.Get("account_id")),
		Guard:     strings.ToLower(strings.TrimSpace(q.Get("guard"))),
		Outcome:   strings.ToLower(strings.TrimSpace(q.Get("outcome"))),
		Limit:     defaultAttemptsLimit,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		f.Since = since
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		if n > maxAttemptsLimit {
			n = maxAttemptsLimit
		}
		f.Limit = n
	}
	items, err := h.attempts.List(r.Context(), f)
	if err != nil {
		h.logger.Errorf("ACCESS list attempts: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if items == nil {
		items = []store.AccessAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Purge deletes attempts created before the required ?before=RFC3339 cutoff.
func (h *AccessLogsHandler) Purge(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("before"))
	before, err := time.Parse(time.RFC3339, raw)
	if raw == "" || err != nil {
		writeError(w, http.StatusBadRequest, "invalid_before")
		return
	}
	n, err := h.attempts.DeleteBefore(r.Context(), before)
	if err != nil {
		h.logger.Errorf("ACCESS purge attempts: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	p := auth.PrincipalFromContext(r.Context())
	h.logger.Printf("ACCESS purge attempts before=%s deleted=%d by=%s", before.UTC().Format(time.RFC3339), n, p.Username)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}
