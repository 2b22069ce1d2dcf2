package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/eldtechnologies/ephemera/internal/models"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Users     []string         `json:"users"`
	UserCount int              `json:"userCount"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports liveness, the current presence list and dependency checks.
// Only a configured but unreachable Redis degrades the status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	if h.redis != nil {
		redisStart := time.Now()
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(redisStart).String()}
		}
	} else {
		checks["redis"] = Check{Status: "pass", Message: "not configured, using in-memory cache"}
	}

	scanner := h.engine.Pipeline().Scanner()
	if scanner.Enabled() {
		checks["scanner"] = Check{Status: "pass", Message: scanner.Name()}
	} else {
		checks["scanner"] = Check{Status: "pass", Message: "disabled, pattern scan only"}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	users := h.engine.Users()
	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Users:     users,
		UserCount: len(users),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// CapabilitiesResponse describes what this server supports.
type CapabilitiesResponse struct {
	RemoteScan      bool          `json:"remoteScan"`
	Scanner         string        `json:"scanner"`
	Features        []string      `json:"features"`
	Kinds           []models.Kind `json:"kinds"`
	MessageTTL      int64         `json:"messageTtl"`    // seconds
	SweepInterval   int64         `json:"sweepInterval"` // seconds
	MaxPayloadBytes int64         `json:"maxPayloadBytes"`
}

// Capabilities reports server features so clients can adapt their UI.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	scanner := h.engine.Pipeline().Scanner()

	features := []string{"auto_delete", "pattern_scan", "upload_progress", "presence"}
	if scanner.Enabled() {
		features = append(features, "file_scan", "url_scan")
	}

	h.JSON(w, http.StatusOK, CapabilitiesResponse{
		RemoteScan:      scanner.Enabled(),
		Scanner:         scanner.Name(),
		Features:        features,
		Kinds:           models.Kinds(),
		MessageTTL:      int64(h.engine.TTL().Seconds()),
		SweepInterval:   int64(h.engine.SweepInterval().Seconds()),
		MaxPayloadBytes: h.cfg.MaxPayloadBytes,
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Websocket string `json:"websocket"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:      "Ephemera",
		Version:   version,
		Websocket: "/ws",
	})
}
