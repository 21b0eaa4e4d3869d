package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes builds the chi router. allowedOrigins feeds the CORS policy.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TelegramInitDataHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		// public
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/refresh", h.handleRefresh)
		r.Post("/auth/telegram", h.handleTelegramLogin)
		r.Post("/public-addresses/challenge", h.handleAddressChallenge)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/session", h.handleSession)

			r.Get("/public-addresses", h.handleListAddresses)
			r.Post("/public-addresses", h.handleRegisterAddress)

			r.Get("/users/me", h.handleGetMe)
			r.Patch("/users/me", h.handleUpdateMe)
			r.Get("/users/search", h.handleSearchUsers)

			r.Route("/passwords", func(r chi.Router) {
				r.Get("/", h.handleListSecrets)
				r.Post("/", h.handleCreateSecret)
				r.Get("/shared-with-me", h.handleSharedWithMe)
				r.Get("/{id}", h.handleGetSecret)
				r.Patch("/{id}", h.handleUpdateSecret)
				r.Delete("/{id}", h.handleDeleteSecret)
				r.Post("/{id}/share", h.handleShareSecret)
				r.Patch("/{id}/hidden", h.handleSetHidden)
				r.Get("/{id}/children", h.handleListChildren)
				r.Post("/{id}/view", h.handleRecordView)
				r.Get("/{id}/view-stats", h.handleViewStats)
			})

			r.Post("/reports", h.handleCreateReport)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Get("/reports", h.handleListReports)
				r.Patch("/reports/{id}/resolve", h.handleResolveReport)
				r.Patch("/users/{id}/active", h.handleSetUserActive)
			})
		})
	})

	return r
}
