package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/service"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Services groups the services the HTTP layer depends on
type Services struct {
	Auth       *service.Authenticator
	Login      *service.LoginService
	Addresses  *service.AddressService
	Secrets    *service.SecretService
	Visibility *service.VisibilityService
	Users      *service.UserService
	Reports    *service.ReportService
}

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	auth       *service.Authenticator
	login      *service.LoginService
	addresses  *service.AddressService
	secrets    *service.SecretService
	visibility *service.VisibilityService
	users      *service.UserService
	reports    *service.ReportService
	validate   *validator.Validate
	log        *zap.Logger
}

// NewHandler creates a Handler
func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{
		auth:       svc.Auth,
		login:      svc.Login,
		addresses:  svc.Addresses,
		secrets:    svc.Secrets,
		visibility: svc.Visibility,
		users:      svc.Users,
		reports:    svc.Reports,
		validate:   validator.New(),
		log:        log,
	}
}

// === Response helpers ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// respondWithAppError maps err to its status. Internal causes are logged,
// never sent.
func (h *Handler) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	h.respondWithError(w, apperr.HTTPStatus(kind), apperr.Message(err))
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"internal server error"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// An empty body decodes as {}.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid data: "+err.Error())
		return false
	}
	return true
}
