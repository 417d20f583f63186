package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	CORSOrigin string
	StaticDir  string
}

func NewRouter(apiHandler *APIHandler, logger *zap.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.CORSOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		r.With(enforceJSON).Post("/user", apiHandler.SignupHandler)
		r.With(enforceJSON).Post("/user/login", apiHandler.LoginHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/user/{id}", apiHandler.GetUserHandler)
			r.With(enforceJSON).Put("/user/{id}", apiHandler.UpdateUserHandler)
			r.Delete("/user/{id}", apiHandler.DeleteUserHandler)

			r.Route("/message", func(r chi.Router) {
				r.With(enforceJSON).Post("/", apiHandler.PostMessageHandler)
				r.With(enforceJSON).Put("/", apiHandler.EditMessageHandler)
				r.Delete("/{id}", apiHandler.DeleteMessageHandler)
				r.Post("/{id}/hide", apiHandler.HideMessageHandler)
				r.Post("/{id}/show", apiHandler.ShowMessageHandler)

				r.With(enforceJSON).Post("/convo", apiHandler.StartConversationHandler)
				r.Get("/convo", apiHandler.GetConversationHandler)
				r.Get("/convo/{uid}", apiHandler.GetUserConversationsHandler)
				r.Delete("/convo/{id}", apiHandler.DeleteConversationHandler)
			})
		})
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}
