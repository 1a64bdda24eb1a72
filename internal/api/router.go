package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Token-guarded routes, open when no JWT secret is configured
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Live conversation
			r.Get("/chat", apiHandler.GetChatHandler)
			r.Get("/chat/ws", apiHandler.ChatFeedHandler)
			r.Post("/chat/messages", apiHandler.PostMessageHandler)
			r.Post("/chat/new", apiHandler.NewChatHandler)
			r.Put("/chat/history", apiHandler.ReplaceHistoryHandler)
			r.Get("/chat/diagnosis", apiHandler.DiagnosisHandler)
			r.Get("/chat/export", apiHandler.ExportHandler)

			// Reference material
			r.Get("/suggestions", apiHandler.SuggestionsHandler)
			r.Get("/manual", apiHandler.ManualHandler)

			r.Post("/attachments", apiHandler.UploadAttachmentHandler)
			r.Put("/settings/api-key", apiHandler.SetAPIKeyHandler)

			// Saved sessions
			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Post("/sessions", apiHandler.SaveSessionHandler)
			r.Post("/sessions/{sessionID}/load", apiHandler.LoadSessionHandler)
			r.Delete("/sessions/{sessionID}", apiHandler.DeleteSessionHandler)
		})
	})

	return r
}
