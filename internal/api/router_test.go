package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/ephemera/internal/config"
	"github.com/eldtechnologies/ephemera/internal/models"
	"github.com/eldtechnologies/ephemera/internal/relay"
)

func newTestServer(t *testing.T) (*httptest.Server, *relay.Engine) {
	t.Helper()
	engine := relay.NewEngine(relay.Options{TTL: time.Minute, SweepInterval: time.Minute, Logger: zerolog.Nop()})
	t.Cleanup(engine.Close)
	cfg := &config.Config{
		AllowedOrigins:  []string{"*"},
		MaxPayloadBytes: 1 << 20,
		EventRate:       50,
		EventBurst:      50,
	}
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), cfg, engine, nil))
	t.Cleanup(srv.Close)
	return srv, engine
}

func TestRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/", "/health", "/capabilities", "/stats", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"), path)
	}

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/health", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthThroughRouter(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
}

func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	srv, engine := newTestServer(t)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer c.Close()

	env, err := models.NewEnvelope(models.EventJoin, models.JoinData{Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(env))

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got models.Envelope
	require.NoError(t, c.ReadJSON(&got))
	assert.Equal(t, models.EventPresenceUpdate, got.Event)
	assert.Equal(t, 1, engine.UserCount())
}
