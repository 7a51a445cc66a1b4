// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"tides/internal/config"
	"tides/internal/domain/docstore"
	"tides/internal/domain/identity"
	"tides/internal/domain/messaging"
	"tides/internal/domain/moderation"
	"tides/internal/domain/tide"
	"tides/internal/server/handlers"
	"tides/internal/service/feed"
	geoservice "tides/internal/service/geo"
)

// Services bundles what the HTTP surface serves
type Services struct {
	Store       docstore.Store
	Users       identity.Service
	Coordinator tide.Coordinator
	Messages    messaging.Service
	Reports     moderation.Pipeline
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
	hub    *handlers.FeedHub
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, services Services, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", handlers.UserIDHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	radius := cfg.Geo.RadiusMeters
	hub := handlers.NewFeedHub(services.Store, services.Users, handlers.FeedHubConfig{
		Feed: feed.Config{
			GeoChatWindow: cfg.Feed.GeoChatWindow,
			GeoChatLimit:  cfg.Feed.GeoChatLimit,
			TideChatLimit: cfg.Feed.TideChatLimit,
		},
		Tracker: geoservice.TrackerConfig{
			RadiusMeters:    radius,
			RefreshInterval: cfg.Geo.RefreshInterval,
		},
	}, logger)

	// Create handler dependencies
	tideHandler := handlers.NewTideHandler(services.Coordinator, radius, logger)
	messageHandler := handlers.NewMessageHandler(services.Messages, radius, logger)
	reportHandler := handlers.NewReportHandler(services.Reports, logger)
	userHandler := handlers.NewUserHandler(services.Users, hub, logger)
	geoHandler := handlers.NewGeoHandler(radius, logger)
	withSession := handlers.SessionMiddleware(services.Users, logger)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Get("/geo/bbox", geoHandler.GetBoundingBox)

			r.Group(func(r chi.Router) {
				r.Use(withSession)

				// Tides API
				r.Route("/tides", func(r chi.Router) {
					r.Post("/", tideHandler.CreateTide)
					r.Post("/{id}/join", tideHandler.JoinTide)
					r.Post("/{id}/leave", tideHandler.LeaveTide)
					r.Post("/{id}/messages", messageHandler.PostTideMessage)
				})

				r.Post("/geo/messages", messageHandler.PostGeoMessage)
				r.Post("/reports", reportHandler.SubmitReport)

				// Block lists
				r.Route("/users/me/blocks", func(r chi.Router) {
					r.Post("/", userHandler.Block)
					r.Delete("/{id}", userHandler.Unblock)
				})
			})
		})
	})

	// WebSocket endpoint for live feeds
	router.With(withSession).Get("/ws/feeds", hub.ServeHTTP)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
		hub:    hub,
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
