package api

import (
	"context"
	"net/http"
	"time"

	"secretshare-backend/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// contextKey is a private type to avoid key collisions in the context
type contextKey string

const outcomeContextKey = contextKey("auth-outcome")

// TelegramInitDataHeader carries raw Mini App init-data
const TelegramInitDataHeader = "X-Telegram-Init-Data"

// AuthMiddleware authenticates the request with a bearer token or Telegram
// init-data and stores the outcome in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, err := h.auth.Authenticate(r.Context(), r.Header.Get("Authorization"), r.Header.Get(TelegramInitDataHeader))
		if err != nil {
			h.respondWithAppError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), outcomeContextKey, outcome)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated callers without the admin role.
// Must run after AuthMiddleware.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r)
		if !ok {
			h.respondWithError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !p.IsAdmin() {
			h.respondWithError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func outcomeFrom(r *http.Request) (auth.Outcome, bool) {
	outcome, ok := r.Context().Value(outcomeContextKey).(auth.Outcome)
	return outcome, ok && outcome != nil
}

func principalFrom(r *http.Request) (auth.Principal, bool) {
	outcome, ok := outcomeFrom(r)
	if !ok {
		return auth.Principal{}, false
	}
	return outcome.Principal(), true
}
