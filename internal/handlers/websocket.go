package handlers

import (
	"net/http"

	"github.com/eldtechnologies/ephemera/internal/ws"
)

// ServeWS upgrades the request and serves the connection until it closes.
// The connection joins presence only after it sends a join event.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Debug().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket upgrade rejected")
		return
	}

	c := ws.NewConn(conn, h.engine, ws.Options{
		MaxPayloadBytes: h.cfg.MaxPayloadBytes,
		EventRate:       h.cfg.EventRate,
		EventBurst:      h.cfg.EventBurst,
	}, h.logger)
	h.logger.Debug().Str("conn", c.ID()).Msg("websocket connected")
	c.Serve(r.Context())
}
