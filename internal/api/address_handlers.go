package api

import (
	"net/http"

	"secretshare-backend/internal/service"
)

// handleRegisterAddress (POST /public-addresses)
func (h *Handler) handleRegisterAddress(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		PublicKey string `json:"publicKey" validate:"required"`
		Signature string `json:"signature"`
		Secret    string `json:"secret"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.addresses.Register(r.Context(), p, service.RegisterAddressInput{
		PublicKey: req.PublicKey,
		Signature: req.Signature,
		Secret:    req.Secret,
	})
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if result.Challenge != nil {
		h.respondWithJSON(w, http.StatusOK, challengeResponse{RequiresSignature: true, Challenge: result.Challenge})
		return
	}
	h.respondWithJSON(w, http.StatusCreated, result.Address)
}

// handleListAddresses (GET /public-addresses)
func (h *Handler) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	list, err := h.addresses.List(r.Context(), p)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, list)
}

// handleAddressChallenge (POST /public-addresses/challenge)
func (h *Handler) handleAddressChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"publicKey" validate:"required"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.addresses.Challenge(r.Context(), req.PublicKey)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, c)
}
