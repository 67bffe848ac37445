package handlers

import (
	"errors"
	"net/http"

	"merchant-guard/core/auth"
	"merchant-guard/core/tokens"
)

func (h *AuthHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.PrincipalFromContext(ctx)
	guardName := auth.GuardFromContext(ctx)
	items, err := h.tokens.ListLive(ctx, p.ID, guardName)
	if err != nil {
		h.logger.Errorf("TOKEN list %s: %v", p.Username, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	def, _ := h.registry.Lookup(guardName)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":            items,
		"max_tokens":       def.MaxTokens,
		"current_token_id": auth.TokenIDFromContext(ctx),
	})
}

func (h *AuthHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.PrincipalFromContext(ctx)
	id := urlParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if err := h.tokens.Revoke(ctx, p.ID, auth.GuardFromContext(ctx), id); err != nil {
		if errors.Is(err, tokens.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Errorf("TOKEN revoke %s id=%s: %v", p.Username, id, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
