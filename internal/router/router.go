package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mesa-pos/api/internal/config"
	"github.com/mesa-pos/api/internal/coordinator"
	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/handler"
	"github.com/mesa-pos/api/internal/ledger"
	mw "github.com/mesa-pos/api/internal/middleware"
	"github.com/mesa-pos/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and restaurant scoping middleware as needed.
func New(cfg *config.Config, queries *database.Queries, led *ledger.Ledger, coord *coordinator.Coordinator, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/restaurants/{rid}/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, led, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Restaurant-scoped routes
		r.Route("/restaurants/{rid}", func(r chi.Router) {
			r.Use(mw.RequireRestaurant)

			// Sessions: resolve, cart, send, terminate
			sessionHandler := handler.NewSessionHandler(coord)
			r.Route("/sessions", sessionHandler.RegisterRoutes)

			// Orders: read, status updates, line deletion
			orderHandler := handler.NewOrderHandler(led)
			r.Route("/orders", orderHandler.RegisterRoutes)
		})
	})

	return r
}
