package viewport

import (
	"errors"
	"fmt"

	"github.com/skyward-labs/skyward/internal/geo"
	"github.com/skyward-labs/skyward/internal/websocket"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// WebSocketHandler routes incoming WebSocket messages to the controller
type WebSocketHandler struct {
	controller *Controller
	logger     *logger.Logger
}

// NewWebSocketHandler creates a handler for viewport messages
func NewWebSocketHandler(controller *Controller, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		controller: controller,
		logger:     log.Named("viewport-ws"),
	}
}

// HandleMessage processes a message from a WebSocket client
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeViewportUpdate:
		return h.handleViewportUpdate(client, data)
	default:
		h.logger.Debug("Ignoring unknown message type",
			logger.String("type", messageType))
		return nil
	}
}

func (h *WebSocketHandler) handleViewportUpdate(client *websocket.Client, data map[string]any) error {
	bounds, err := boundsFromMessage(data)
	if err != nil {
		client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeError,
			Data: map[string]any{"error": err.Error()},
		})
		return err
	}

	if err := h.controller.OnBoundsChanged(bounds); err != nil {
		// Throttled changes are dropped silently, the client keeps
		// animating from its previous data
		if errors.Is(err, ErrThrottled) {
			return nil
		}
		client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeError,
			Data: map[string]any{"error": err.Error()},
		})
		return err
	}
	return nil
}

func boundsFromMessage(data map[string]any) (geo.BBox, error) {
	get := func(name string) (float64, error) {
		v, ok := data[name].(float64)
		if !ok {
			return 0, fmt.Errorf("missing or non-numeric field: %s", name)
		}
		return v, nil
	}

	var bounds geo.BBox
	var err error
	if bounds.LatMin, err = get("lamin"); err != nil {
		return geo.BBox{}, err
	}
	if bounds.LonMin, err = get("lomin"); err != nil {
		return geo.BBox{}, err
	}
	if bounds.LatMax, err = get("lamax"); err != nil {
		return geo.BBox{}, err
	}
	if bounds.LonMax, err = get("lomax"); err != nil {
		return geo.BBox{}, err
	}
	return bounds, nil
}
