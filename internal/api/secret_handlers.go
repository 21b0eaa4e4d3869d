package api

import (
	"net/http"
	"strconv"

	"secretshare-backend/internal/service"

	"github.com/go-chi/chi/v5"
)

type createSecretRequest struct {
	Key            string                `json:"key" validate:"required,max=256"`
	Value          string                `json:"value" validate:"required"`
	Description    string                `json:"description" validate:"max=1024"`
	Type           string                `json:"type" validate:"max=64"`
	ParentSecretID string                `json:"parentSecretId"`
	SharedWith     []service.ShareTarget `json:"sharedWith"`
}

type updateSecretRequest struct {
	Key         *string                `json:"key" validate:"omitempty,max=256"`
	Value       *string                `json:"value"`
	Description *string                `json:"description" validate:"omitempty,max=1024"`
	Type        *string                `json:"type" validate:"omitempty,max=64"`
	SharedWith  *[]service.ShareTarget `json:"sharedWith"`
}

// handleCreateSecret (POST /passwords)
func (h *Handler) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createSecretRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	secret, err := h.secrets.Create(r.Context(), p, service.CreateSecretInput{
		Key:            req.Key,
		Value:          req.Value,
		Description:    req.Description,
		Type:           req.Type,
		ParentSecretID: req.ParentSecretID,
		SharedWith:     req.SharedWith,
	})
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, secret)
}

// handleListSecrets (GET /passwords?includeHidden=true)
func (h *Handler) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	includeHidden, _ := strconv.ParseBool(r.URL.Query().Get("includeHidden"))
	list, err := h.secrets.ListOwn(r.Context(), p, includeHidden)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, list)
}

// handleGetSecret (GET /passwords/{id})
func (h *Handler) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	secret, err := h.secrets.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, secret)
}

// handleUpdateSecret (PATCH /passwords/{id})
func (h *Handler) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req updateSecretRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	secret, err := h.secrets.Update(r.Context(), p, chi.URLParam(r, "id"), service.UpdateSecretInput{
		Key:         req.Key,
		Value:       req.Value,
		Description: req.Description,
		Type:        req.Type,
		SharedWith:  req.SharedWith,
	})
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, secret)
}

// handleDeleteSecret (DELETE /passwords/{id})
func (h *Handler) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.secrets.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "secret deleted"})
}

// handleShareSecret (POST /passwords/{id}/share)
func (h *Handler) handleShareSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		SharedWith []service.ShareTarget `json:"sharedWith" validate:"required,min=1"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	secret, err := h.secrets.Share(r.Context(), p, chi.URLParam(r, "id"), req.SharedWith)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, secret)
}

// handleSetHidden (PATCH /passwords/{id}/hidden)
func (h *Handler) handleSetHidden(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Hidden *bool `json:"hidden" validate:"required"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.secrets.SetHidden(r.Context(), p, chi.URLParam(r, "id"), *req.Hidden); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]bool{"hidden": *req.Hidden})
}

// handleListChildren (GET /passwords/{id}/children)
func (h *Handler) handleListChildren(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	children, err := h.secrets.ListChildren(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, children)
}

// handleRecordView (POST /passwords/{id}/view). Callers without access get
// an empty object, not an error.
func (h *Handler) handleRecordView(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	secret, err := h.visibility.RecordView(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if secret == nil {
		h.respondWithJSON(w, http.StatusOK, struct{}{})
		return
	}
	h.respondWithJSON(w, http.StatusOK, secret)
}

// handleViewStats (GET /passwords/{id}/view-stats)
func (h *Handler) handleViewStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	stats, err := h.visibility.ViewStats(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

// handleSharedWithMe (GET /passwords/shared-with-me)
func (h *Handler) handleSharedWithMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	groups, err := h.visibility.SharedWithMe(r.Context(), p)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, groups)
}
