package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/geo"
	"github.com/skyward-labs/skyward/internal/tiles"
	"github.com/skyward-labs/skyward/internal/tracker"
	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/internal/viewport"
	"github.com/skyward-labs/skyward/internal/websocket"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	tiles        *tiles.Service
	trackerStore *tracker.Store
	controller   *viewport.Controller
	config       *config.Config
	logger       *logger.Logger
	wsServer     *websocket.Server
	startedAt    time.Time
}

// NewHandler creates a new API handler
func NewHandler(tileSvc *tiles.Service, store *tracker.Store, controller *viewport.Controller, cfg *config.Config, log *logger.Logger, wsServer *websocket.Server) *Handler {
	return &Handler{
		tiles:        tileSvc,
		trackerStore: store,
		controller:   controller,
		config:       cfg,
		logger:       log.Named("api-handler"),
		wsServer:     wsServer,
		startedAt:    time.Now(),
	}
}

// errorResponse is the JSON body for non-200 outcomes
type errorResponse struct {
	Error        string   `json:"error"`
	MaxExtentDeg *float64 `json:"max_extent_deg,omitempty"`
}

// snapshotsResponse is the JSON body for a bounded-region state query
type snapshotsResponse struct {
	Entities  []upstream.Snapshot `json:"entities"`
	Count     int                 `json:"count"`
	Fallback  bool                `json:"fallback"`
	Message   string              `json:"message,omitempty"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// GetSnapshots serves a bounded-region state query. Bounds come from
// lamin/lomin/lamax/lomax query parameters; oversized regions are
// rejected before any upstream traffic.
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	bounds, err := parseBounds(r)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	clamped := bounds.Clamped()
	maxDeg := h.config.Viewport.MaxExtentDeg
	if clamped.Width() > maxDeg || clamped.Height() > maxDeg {
		WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error:        fmt.Sprintf("requested area too large: maximum extent is %.1f degrees per axis, zoom in and retry", maxDeg),
			MaxExtentDeg: &maxDeg,
		})
		return
	}

	set, err := h.tiles.FetchLarge(r.Context(), clamped, nil)
	if err != nil {
		h.writeFetchError(w, clamped, err)
		return
	}

	resp := snapshotsResponse{
		Entities:  set.Snapshots,
		Count:     len(set.Snapshots),
		Fallback:  set.Fallback,
		FetchedAt: set.FetchedAt,
	}
	if set.Fallback {
		resp.Message = "upstream unavailable, serving synthetic data"
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeFetchError(w http.ResponseWriter, bounds geo.BBox, err error) {
	var rateLimited *upstream.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		WriteJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: "upstream rate limit exceeded, retry later",
		})
		return
	}

	if errors.Is(err, upstream.ErrUpstreamUnavailable) {
		h.logger.Warn("Snapshot query failed, upstream unavailable",
			logger.String("bounds", bounds.String()),
			logger.Error(err))
		WriteJSON(w, http.StatusBadGateway, errorResponse{
			Error: "upstream state provider unavailable",
		})
		return
	}

	h.logger.Error("Snapshot query failed",
		logger.String("bounds", bounds.String()),
		logger.Error(err))
	WriteJSON(w, http.StatusInternalServerError, errorResponse{
		Error: "internal error",
	})
}

// GetPositions returns the interpolated position of every tracked
// entity at the time of the request
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	positions := h.trackerStore.RenderFrame(now)

	WriteJSON(w, http.StatusOK, tracker.FrameResponse{
		Timestamp: now,
		Count:     len(positions),
		Positions: positions,
	})
}

// viewportRequest is the JSON body for a viewport change
type viewportRequest struct {
	LatMin float64 `json:"lamin"`
	LonMin float64 `json:"lomin"`
	LatMax float64 `json:"lamax"`
	LonMax float64 `json:"lomax"`
}

// UpdateViewport accepts a new viewport from the client and hands it
// to the controller
func (h *Handler) UpdateViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	bounds := geo.BBox{LatMin: req.LatMin, LonMin: req.LonMin, LatMax: req.LatMax, LonMax: req.LonMax}
	if err := h.controller.OnBoundsChanged(bounds); err != nil {
		var tooLarge *viewport.AreaTooLargeError
		switch {
		case errors.As(err, &tooLarge):
			WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:        tooLarge.Error(),
				MaxExtentDeg: &tooLarge.MaxExtentDeg,
			})
		case errors.Is(err, viewport.ErrThrottled):
			// Dropped, not queued; the client keeps its previous data
			WriteJSON(w, http.StatusOK, map[string]any{"status": "throttled"})
		default:
			WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

// GetTileStats returns tile cache statistics
func (h *Handler) GetTileStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.tiles.Stats())
}

// GetHealth returns server health information
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"tracked":        h.trackerStore.Count(),
		"ws_clients":     h.wsServer.ClientCount(),
	})
}

// GetConfig returns the client-relevant subset of the configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"update_interval_seconds": h.config.Tracker.UpdateIntervalSecs,
		"frame_interval_ms":       h.config.Tracker.FrameIntervalMs,
		"viewport_throttle_ms":    h.config.Viewport.ThrottleMs,
		"max_extent_deg":          h.config.Viewport.MaxExtentDeg,
		"fallback_enabled":        h.config.Fallback.Enabled,
	})
}

// HandleWebSocket upgrades the connection and hands it to the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// parseBounds extracts and validates viewport bounds from query
// parameters. All four are required and must be finite.
func parseBounds(r *http.Request) (geo.BBox, error) {
	q := r.URL.Query()

	parse := func(name string) (float64, error) {
		raw := q.Get(name)
		if raw == "" {
			return 0, fmt.Errorf("missing required parameter: %s", name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %s", name, raw)
		}
		return v, nil
	}

	var bounds geo.BBox
	var err error
	if bounds.LatMin, err = parse("lamin"); err != nil {
		return geo.BBox{}, err
	}
	if bounds.LonMin, err = parse("lomin"); err != nil {
		return geo.BBox{}, err
	}
	if bounds.LatMax, err = parse("lamax"); err != nil {
		return geo.BBox{}, err
	}
	if bounds.LonMax, err = parse("lomax"); err != nil {
		return geo.BBox{}, err
	}

	if err := bounds.Validate(); err != nil {
		return geo.BBox{}, err
	}
	return bounds, nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
