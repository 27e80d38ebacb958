package routes

import (
	"net/http"
	"time"

	"github.com/gfmateus5/Mateus2121/app"
	appmiddleware "github.com/gfmateus5/Mateus2121/middleware"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.RequestContext)
	r.Use(appmiddleware.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Fenix login endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Get("/fenix/login", deps.AuthHandler.HandleLogin)
		r.Get("/fenix/callback", deps.AuthHandler.HandleCallback)
		r.Post("/fenix", deps.AuthHandler.HandleFenixAuth)
		r.Get("/logout", deps.AuthHandler.HandleLogout)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", deps.UserHandler.HandleGetCurrentUser)
			r.With(deps.AuthMiddleware.RequireRole(models.RoleAdmin)).
				Get("/{username}", deps.UserHandler.HandleGetUser)
		})

		// Login audit (require admin role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(models.RoleAdmin))
			r.Get("/logins", deps.AuditHandler.HandleListLogins)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func allowedOrigins(deps *app.Dependencies) []string {
	origins := []string{"http://localhost:*"}
	if front := deps.Config.Fenix.FrontEndURL; front != "" {
		origins = append(origins, front)
	}
	return origins
}
