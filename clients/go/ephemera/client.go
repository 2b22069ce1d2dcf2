// Package ephemera provides a client for the Ephemera relay: HTTP probes and
// a websocket chat session.
package ephemera

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is an Ephemera API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewClient creates a new client for the server at baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// doRequest performs a GET request and returns the body.
func (c *Client) doRequest(path string) ([]byte, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("ephemera error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// HealthResponse represents the health endpoint response.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Users     []string `json:"users"`
	UserCount int      `json:"userCount"`
	Checks    map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
	Timestamp string `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503, which is
// reported as an error.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("/health")
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CapabilitiesResponse represents the capabilities endpoint response.
type CapabilitiesResponse struct {
	RemoteScan      bool     `json:"remoteScan"`
	Scanner         string   `json:"scanner"`
	Features        []string `json:"features"`
	Kinds           []string `json:"kinds"`
	MessageTTL      int64    `json:"messageTtl"`
	SweepInterval   int64    `json:"sweepInterval"`
	MaxPayloadBytes int64    `json:"maxPayloadBytes"`
}

// Capabilities fetches the server's feature set.
func (c *Client) Capabilities() (*CapabilitiesResponse, error) {
	respBody, err := c.doRequest("/capabilities")
	if err != nil {
		return nil, err
	}

	var resp CapabilitiesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// websocketURL derives the /ws endpoint from the base URL.
func (c *Client) websocketURL() string {
	u := c.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
