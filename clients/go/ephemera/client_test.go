package ephemera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"healthy","version":"0.1.0","users":["alice"],"userCount":1,"checks":{"redis":{"status":"pass"}}}`))
		case "/capabilities":
			w.Write([]byte(`{"remoteScan":true,"scanner":"virustotal","features":["auto_delete"],"messageTtl":120}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")

	health, err := c.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, []string{"alice"}, health.Users)
	assert.Equal(t, "pass", health.Checks["redis"].Status)

	caps, err := c.Capabilities()
	require.NoError(t, err)
	assert.True(t, caps.RemoteScan)
	assert.Equal(t, int64(120), caps.MessageTTL)

	_, err = c.doRequest("/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not found")
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:3001/ws", NewClient("").websocketURL())
	assert.Equal(t, "wss://chat.example.com/ws", NewClient("https://chat.example.com").websocketURL())
}

func TestKindForFile(t *testing.T) {
	cases := map[string][2]string{
		"photo.png":  {"image/png", "image"},
		"clip.mp4":   {"video/mp4", "video"},
		"song.mp3":   {"audio/mpeg", "audio"},
		"report.PDF": {"application/pdf", "pdf"},
		"bundle.zip": {"application/zip", "archive"},
		"notes.txt":  {"text/plain", "textfile"},
		"blob.bin":   {"application/octet-stream", "file"},
	}
	for name, tc := range cases {
		assert.Equal(t, tc[1], KindForFile(name, tc[0]), name)
	}
}

func TestSessionJoinAndSend(t *testing.T) {
	received := make(chan Envelope, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received <- env
			if env.Event == EventPing {
				conn.WriteJSON(Envelope{Event: EventPong})
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := NewClient(srv.URL).Join(ctx, "alice")
	require.NoError(t, err)
	defer s.Close()

	next := func() Envelope {
		select {
		case env := <-received:
			return env
		case <-ctx.Done():
			t.Fatal("timed out waiting for frame")
			return Envelope{}
		}
	}

	join := next()
	assert.Equal(t, EventJoin, join.Event)
	assert.JSONEq(t, `{"username":"alice"}`, string(join.Data))

	require.NoError(t, s.SendText("bob", "https://example.com"))
	send := next()
	var d draft
	require.NoError(t, json.Unmarshal(send.Data, &d))
	assert.Equal(t, "link", d.Kind)
	assert.Equal(t, "bob", d.To)

	require.NoError(t, s.SendFile("bob", "/tmp/notes.txt", []byte("hi")))
	assert.Equal(t, EventUploadProgress, next().Event)
	file := next()
	require.NoError(t, json.Unmarshal(file.Data, &d))
	assert.Equal(t, "textfile", d.Kind)
	assert.Equal(t, "notes.txt", d.Filename)
	assert.Equal(t, int64(2), d.SizeBytes)
	assert.Contains(t, d.Content, ";base64,aGk=")
	assert.Equal(t, EventUploadProgress, next().Event)

	require.NoError(t, s.Ping())
	assert.Equal(t, EventPing, next().Event)
	env, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPong, env.Event)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SendText("bob", "late"), ErrClosed)
}
