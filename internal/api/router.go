package api

import (
	"net/http"

	"github.com/Rrens/ai-session-manager/internal/api/handler"
	customMiddleware "github.com/Rrens/ai-session-manager/internal/api/middleware"
	"github.com/Rrens/ai-session-manager/internal/config"
	"github.com/Rrens/ai-session-manager/internal/security"
	"github.com/Rrens/ai-session-manager/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the services the router exposes
type Dependencies struct {
	Auth     *service.AuthService
	Sessions *service.SessionService
	JWT      *security.JWTManager

	// Limiter throttles auth endpoints; nil disables it
	Limiter customMiddleware.Limiter

	// Ready lists the dependencies probed by /ready
	Ready map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMiddleware.TabHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(deps.Auth)
	sessionHandler := handler.NewSessionHandler(deps.Sessions)

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	r.Route("/api/v1", func(r chi.Router) {
		// Plain request/response routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

			r.Get("/health", handler.HealthCheck)
			r.Get("/ready", handler.ReadyCheck(deps.Ready))
			r.Get("/models", handler.ListModels(deps.Sessions))

			r.Route("/auth", func(r chi.Router) {
				if deps.Limiter != nil {
					r.Use(customMiddleware.NewRateLimitMiddleware(deps.Limiter).Limit)
				}
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
				r.With(authMiddleware.Authenticate).Get("/me", authHandler.Me)
			})

			r.Route("/history", func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Get("/", sessionHandler.History)
				r.Get("/{sessionID}", sessionHandler.Archived)
			})
		})

		// Session routes; turn endpoints stream and carry no request timeout
		r.Route("/sessions", func(r chi.Router) {
			r.Use(authMiddleware.OptionalAuthenticate)
			r.Use(customMiddleware.TabContext)

			r.Post("/", sessionHandler.Configure)
			r.Get("/active", sessionHandler.Active)
			r.Delete("/active", sessionHandler.Clear)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Put("/parameters", sessionHandler.SetParameters)
				r.Put("/model", sessionHandler.SetModel)
				r.Post("/cancel", sessionHandler.Cancel)
				r.Post("/complete", sessionHandler.Complete)

				r.Post("/messages", sessionHandler.Submit)
				r.Patch("/messages/{messageID}", sessionHandler.Edit)
				r.Put("/messages/{messageID}", sessionHandler.UpdateMessage)
				r.Delete("/messages/{messageID}", sessionHandler.RemoveMessage)
				r.Post("/regenerate", sessionHandler.Regenerate)
			})
		})
	})

	return r
}
