package api

import (
	"net/http"
	"time"

	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/models"
)

// challengeResponse is returned when the caller must sign before retrying
type challengeResponse struct {
	RequiresSignature bool              `json:"requiresSignature"`
	Challenge         *models.Challenge `json:"challenge"`
}

// handleLogin (POST /auth/login)
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicAddress string `json:"publicAddress" validate:"required"`
		Signature     string `json:"signature"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.login.LoginWithAddress(r.Context(), req.PublicAddress, req.Signature)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if result.Challenge != nil {
		h.respondWithJSON(w, http.StatusOK, challengeResponse{RequiresSignature: true, Challenge: result.Challenge})
		return
	}
	h.respondWithJSON(w, http.StatusOK, result.Tokens)
}

// handleTelegramLogin (POST /auth/telegram)
func (h *Handler) handleTelegramLogin(w http.ResponseWriter, r *http.Request) {
	pair, err := h.login.LoginWithTelegram(r.Context(), r.Header.Get(TelegramInitDataHeader))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pair)
}

// handleRefresh (POST /auth/refresh)
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.login.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pair)
}

// handleSession (GET /auth/session) describes how the caller authenticated
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	outcome, ok := outcomeFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	response := struct {
		Method    string         `json:"method"`
		User      auth.Principal `json:"user"`
		ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
		AuthDate  *time.Time     `json:"authDate,omitempty"`
	}{User: outcome.Principal()}

	switch o := outcome.(type) {
	case auth.JWTOutcome:
		response.Method = "jwt"
		if o.Claims != nil && o.Claims.ExpiresAt != nil {
			exp := o.Claims.ExpiresAt.Time
			response.ExpiresAt = &exp
		}
	case auth.TelegramOutcome:
		response.Method = "telegram"
		if o.Data != nil && !o.Data.AuthDate.IsZero() {
			authDate := o.Data.AuthDate
			response.AuthDate = &authDate
		}
	}

	h.respondWithJSON(w, http.StatusOK, response)
}
