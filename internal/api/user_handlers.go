package api

import (
	"net/http"
	"strconv"

	"secretshare-backend/internal/models"
	"secretshare-backend/internal/service"

	"github.com/go-chi/chi/v5"
)

// handleGetMe (GET /users/me)
func (h *Handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	profile, err := h.users.Me(r.Context(), p)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, profile)
}

// handleUpdateMe (PATCH /users/me)
func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Username    *string `json:"username" validate:"omitempty,min=3,max=32"`
		FirstName   *string `json:"firstName" validate:"omitempty,max=64"`
		LastName    *string `json:"lastName" validate:"omitempty,max=64"`
		PrivacyMode *bool   `json:"privacyMode"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	profile, err := h.users.UpdateMe(r.Context(), p, service.UpdateProfileInput{
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PrivacyMode: req.PrivacyMode,
	})
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, profile)
}

// handleSearchUsers (GET /users/search?q=)
func (h *Handler) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, users)
}

// handleCreateReport (POST /reports)
func (h *Handler) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		SecretID   string `json:"secretId" validate:"required"`
		ReportType string `json:"reportType" validate:"required,oneof=spam scam abuse inappropriate other"`
		Reason     string `json:"reason" validate:"max=1000"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	report, err := h.reports.Create(r.Context(), p, service.CreateReportInput{
		SecretID:   req.SecretID,
		ReportType: models.ReportType(req.ReportType),
		Reason:     req.Reason,
	})
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, report)
}

// === Admin ===

// handleListReports (GET /admin/reports?resolved=)
func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "resolved must be a boolean")
			return
		}
		resolved = &v
	}

	list, err := h.reports.List(r.Context(), resolved)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, list)
}

// handleResolveReport (PATCH /admin/reports/{id}/resolve)
func (h *Handler) handleResolveReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, report)
}

// handleSetUserActive (PATCH /admin/users/{id}/active)
func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active" validate:"required"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.users.SetActive(r.Context(), id, *req.Active); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"id": id, "active": *req.Active})
}
