package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/tiles"
	"github.com/skyward-labs/skyward/internal/tracker"
	"github.com/skyward-labs/skyward/internal/viewport"
	"github.com/skyward-labs/skyward/internal/websocket"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// Router wraps the chi router and the API handler
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(tileSvc *tiles.Service, store *tracker.Store, controller *viewport.Controller, cfg *config.Config, log *logger.Logger, wsServer *websocket.Server) *Router {
	return &Router{
		handler: NewHandler(tileSvc, store, controller, cfg, log, wsServer),
		logger:  log.Named("api-router"),
	}
}

// Routes builds the HTTP route tree
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshots", rt.handler.GetSnapshots)
		r.Get("/positions", rt.handler.GetPositions)
		r.Post("/viewport", rt.handler.UpdateViewport)
		r.Get("/tiles/stats", rt.handler.GetTileStats)
		r.Get("/health", rt.handler.GetHealth)
		r.Get("/config", rt.handler.GetConfig)
	})

	r.Get("/ws", rt.handler.HandleWebSocket)

	return r
}
