package models

import "encoding/json"

// Event names exchanged over the websocket transport.
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

// SystemSender is the display name used for server-authored messages.
const SystemSender = "System"

// Envelope is the frame format for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for the given event.
func NewEnvelope(event string, data interface{}) (*Envelope, error) {
	env := &Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	env.Data = raw
	return env, nil
}

// ParseData decodes the envelope payload into v.
func (e *Envelope) ParseData(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Data, v)
}

// JoinData is the payload of a join event.
type JoinData struct {
	Username string `json:"username"`
}

// PresenceData is the payload of a presence_update event.
type PresenceData struct {
	Users []string `json:"users"`
}

// DeliverData is the payload of a deliver event. Optional flags are omitted
// when false so clients can treat absence as false.
type DeliverData struct {
	ID           string   `json:"id"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	Kind         Kind     `json:"kind"`
	Content      string   `json:"content"`
	CreatedAt    int64    `json:"createdAt"` // Unix ms
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

// DeliverFromMessage renders a stored message as a deliver payload.
func DeliverFromMessage(m *Message, own bool) DeliverData {
	return DeliverData{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Kind:      m.Kind,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UnixMilli(),
		IsOwn:     own,
		Filename:  m.Filename,
		MimeType:  m.MimeType,
		SizeBytes: m.SizeBytes,
	}
}

// DeletedData is the payload of a deleted event.
type DeletedData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // Unix ms
}

// UploadProgress is the payload of an upload_progress event.
type UploadProgress struct {
	To            string  `json:"to"`
	From          string  `json:"from,omitempty"`
	Filename      string  `json:"filename"`
	BytesUploaded int64   `json:"bytesUploaded"`
	TotalBytes    int64   `json:"totalBytes"`
	Percent       float64 `json:"percent"`
}

// Normalize clamps the progress figures into a consistent state.
func (p *UploadProgress) Normalize() {
	if p.BytesUploaded < 0 {
		p.BytesUploaded = 0
	}
	if p.TotalBytes > 0 {
		if p.BytesUploaded > p.TotalBytes {
			p.BytesUploaded = p.TotalBytes
		}
		p.Percent = float64(p.BytesUploaded) * 100 / float64(p.TotalBytes)
	}
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
}
