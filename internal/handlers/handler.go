package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/config"
	"github.com/eldtechnologies/ephemera/internal/relay"
	"github.com/eldtechnologies/ephemera/internal/store"
	"github.com/eldtechnologies/ephemera/internal/ws"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	engine   *relay.Engine
	cfg      *config.Config
	redis    *store.RedisStore // nil when Redis is not configured
	upgrader *websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(engine *relay.Engine, cfg *config.Config, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		cfg:      cfg,
		redis:    redis,
		upgrader: ws.NewUpgrader(cfg.AllowedOrigins),
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
