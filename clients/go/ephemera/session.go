package ephemera

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event names used on the wire.
const (
	EventJoin           = "join"
	EventPresenceUpdate = "presence_update"
	EventSend           = "send"
	EventDeliver        = "deliver"
	EventDeleted        = "deleted"
	EventUploadProgress = "upload_progress"
	EventPing           = "ping"
	EventPong           = "pong"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("session closed")

// Envelope is one frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	return json.Unmarshal(e.Data, v)
}

// Message is a deliver payload.
type Message struct {
	ID           string   `json:"id"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	Kind         string   `json:"kind"`
	Content      string   `json:"content"`
	CreatedAt    int64    `json:"createdAt"`
	IsOwn        bool     `json:"isOwn,omitempty"`
	IsSystem     bool     `json:"isSystem,omitempty"`
	IsBlocked    bool     `json:"isBlocked,omitempty"`
	WasBlocked   bool     `json:"wasBlocked,omitempty"`
	ThreatTokens []string `json:"threatTokens,omitempty"`
	BlockReason  string   `json:"blockReason,omitempty"`
	Filename     string   `json:"filename,omitempty"`
	MimeType     string   `json:"mimeType,omitempty"`
	SizeBytes    int64    `json:"sizeBytes,omitempty"`
}

// Deleted is a deleted payload.
type Deleted struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Presence is a presence_update payload.
type Presence struct {
	Users []string `json:"users"`
}

// Progress is an upload_progress payload.
type Progress struct {
	To            string  `json:"to"`
	From          string  `json:"from,omitempty"`
	Filename      string  `json:"filename"`
	BytesUploaded int64   `json:"bytesUploaded"`
	TotalBytes    int64   `json:"totalBytes"`
	Percent       float64 `json:"percent"`
}

type draft struct {
	To        string `json:"to"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Session is a joined websocket connection.
type Session struct {
	Name string

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

// Join dials the server and registers under name.
func (c *Client) Join(ctx context.Context, name string) (*Session, error) {
	conn, _, err := c.Dialer.DialContext(ctx, c.websocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	s := &Session{Name: name, conn: conn}
	if err := s.write(EventJoin, map[string]string{"username": name}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join: %w", err)
	}
	return s, nil
}

func (s *Session) write(event string, data interface{}) error {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = raw
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(env)
}

// SendText sends a text message, or a link when text starts with a URL.
func (s *Session) SendText(to, text string) error {
	kind := "text"
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		kind = "link"
	}
	return s.write(EventSend, draft{To: to, Kind: kind, Content: text})
}

// SendFile sends a file as a base64 data URL, bracketed by upload
// progress notices to the recipient.
func (s *Session) SendFile(to, filename string, data []byte) error {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	total := int64(len(data))
	filename = filepath.Base(filename)

	if err := s.write(EventUploadProgress, Progress{To: to, Filename: filename, TotalBytes: total}); err != nil {
		return err
	}
	content := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	if err := s.write(EventSend, draft{
		To:        to,
		Kind:      KindForFile(filename, mimeType),
		Content:   content,
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: total,
	}); err != nil {
		return err
	}
	return s.write(EventUploadProgress, Progress{To: to, Filename: filename, BytesUploaded: total, TotalBytes: total})
}

// Ping asks the server for a pong.
func (s *Session) Ping() error {
	return s.write(EventPing, nil)
}

// Next blocks until the next event arrives.
func (s *Session) Next() (*Envelope, error) {
	var env Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Close sends a close frame and closes the connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// KindForFile picks the message kind for a file from its MIME type and
// extension.
func KindForFile(filename, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case ext == ".pdf":
		return "pdf"
	case ext == ".zip", ext == ".tar", ext == ".gz", ext == ".7z", ext == ".rar":
		return "archive"
	case ext == ".txt", ext == ".md", ext == ".csv", ext == ".log":
		return "textfile"
	}
	return "file"
}
