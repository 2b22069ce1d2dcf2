package handlers

import (
	"net/http"
	"time"

	"github.com/eldtechnologies/ephemera/internal/relay"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	relay.Stats
	Uptime string `json:"uptime"`
}

// Stats returns relay counters since process start. No message content or
// names are included.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, StatsResponse{
		Stats:  h.engine.Stats(),
		Uptime: h.engine.Uptime().Round(time.Second).String(),
	})
}
