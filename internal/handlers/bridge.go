// Package handlers provides the HTTP surface of the notification bridge:
// the local-only inbound channel a trusted collaborator process uses to
// inject board-scoped broadcasts, plus health and metrics endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"tapestry-backend/internal/websocket"
	"tapestry-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Hub is the subset of the connection hub the bridge needs.
type Hub interface {
	SendToBoard(boardID string, messageType string, data interface{}) error
	GetMetrics() websocket.HubMetrics
}

// Bridge accepts {event, boardId, data} payloads and forwards them
// unchanged as board broadcasts. Delivery is best-effort and synchronous;
// nothing is queued or retried.
type Bridge struct {
	hub      Hub
	validate *validator.Validate
	logger   *zap.Logger
}

// NewBridge creates the bridge handler set.
func NewBridge(hub Hub, logger *zap.Logger) *Bridge {
	return &Bridge{
		hub:      hub,
		validate: validator.New(),
		logger:   logger,
	}
}

type notifyPayload struct {
	Event   string          `json:"event" validate:"required"`
	BoardID string          `json:"boardId" validate:"required"`
	Data    json.RawMessage `json:"data"`
}

// Router builds the bridge's HTTP router. The listener it serves on is
// bound to loopback; no end-user client ever reaches it.
func (b *Bridge) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/api/notify", b.HandleNotify)
	r.Get("/health", b.HandleHealth)
	r.Get("/metrics", b.HandleMetrics)
	return r
}

// HandleNotify validates and forwards one notification.
func (b *Bridge) HandleNotify(w http.ResponseWriter, r *http.Request) {
	var payload notifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Error(w, http.StatusBadRequest, "malformed notification payload")
		return
	}
	if err := b.validate.Struct(payload); err != nil {
		api.Error(w, http.StatusBadRequest, "notification requires event and boardId")
		return
	}

	if err := b.hub.SendToBoard(payload.BoardID, payload.Event, payload.Data); err != nil {
		b.logger.Error("Bridge broadcast failed",
			zap.String("boardID", payload.BoardID),
			zap.String("event", payload.Event),
			zap.Error(err),
		)
		api.Error(w, http.StatusInternalServerError, "broadcast failed")
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// HandleHealth reports process liveness.
func (b *Bridge) HandleHealth(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleMetrics returns hub counters as JSON.
func (b *Bridge) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := b.hub.GetMetrics()
	api.Success(w, http.StatusOK, map[string]int64{
		"activeConnections": metrics.ActiveConnections,
		"messagesSent":      metrics.MessagesSent,
		"messagesFailed":    metrics.MessagesFailed,
	})
}
