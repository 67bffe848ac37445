package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skip2/go-qrcode"

	"merchant-guard/core/auth"
	"merchant-guard/core/store"
)

// TwoFASetup stores a fresh, unconfirmed secret and returns its provisioning data.
func (h *AuthHandler) TwoFASetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.PrincipalFromContext(ctx)
	if p.TwoFactorEnabled {
		writeError(w, http.StatusBadRequest, "2fa_already_enabled")
		return
	}
	enrollment, err := auth.DefaultTOTPConfig().NewEnrollment(h.cfg.Security.TOTPIssuer, p.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	secretEnc, err := auth.EncryptTOTPSecret(enrollment.Secret, h.cfg.Pepper)
	if err != nil {
		h.logger.Errorf("2FA encrypt secret: %v", err)
		writeError(w, http.StatusInternalServerError, "2fa_misconfigured")
		return
	}
	if err := h.accounts.SetTOTPSecret(ctx, p.ID, secretEnc); err != nil {
		h.logger.Errorf("2FA store secret %s: %v", p.Username, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	png, err := qrcode.Encode(enrollment.URI, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.logger.Printf("2FA setup started user=%s", p.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"otpauth_uri":   enrollment.URI,
		"qr_png_base64": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"manual_secret": enrollment.Secret,
	})
}

func (h *AuthHandler) TwoFAConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.PrincipalFromContext(ctx)
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	acc, _, err := h.accounts.Get(ctx, p.ID)
	if err != nil || acc == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if acc.TOTPConfirmedAt != nil {
		writeError(w, http.StatusBadRequest, "2fa_already_enabled")
		return
	}
	if acc.TOTPSecret == "" {
		writeError(w, http.StatusBadRequest, "2fa_setup_missing")
		return
	}
	now := h.now().UTC()
	if !h.verifyOTP(acc, payload.Code, now) {
		writeError(w, http.StatusUnauthorized, "2fa_invalid_code")
		return
	}
	if err := h.accounts.ConfirmTOTP(ctx, acc.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "2fa_setup_missing")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.logger.Printf("2FA enabled user=%s", p.Username)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
