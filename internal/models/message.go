package models

import "time"

// Kind classifies the payload carried by a message.
type Kind string

const (
	KindText     Kind = "text"
	KindLink     Kind = "link"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindPDF      Kind = "pdf"
	KindArchive  Kind = "archive"
	KindTextFile Kind = "textfile"
	KindFile     Kind = "file"
)

// IsTextual reports whether the kind carries plain text rather than a binary blob.
func (k Kind) IsTextual() bool {
	return k == KindText || k == KindLink
}

var kinds = []Kind{KindText, KindLink, KindImage, KindVideo, KindAudio, KindPDF, KindArchive, KindTextFile, KindFile}

// Kinds lists every known kind.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Label returns a human-readable noun for the kind, used in system notices.
func (k Kind) Label() string {
	switch k {
	case KindText:
		return "message"
	case KindLink:
		return "link"
	case KindTextFile:
		return "text file"
	case KindPDF:
		return "PDF"
	case "":
		return "message"
	default:
		return string(k)
	}
}

// Draft is a message as submitted by a sender, before it is scanned.
type Draft struct {
	To        string `json:"to"`
	Kind      Kind   `json:"kind"`
	Content   string `json:"content"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Message is a delivered message held by the lifecycle store until it expires.
type Message struct {
	ID        string    `json:"id"` // ULID
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromConn  string    `json:"-"`
	ToConn    string    `json:"-"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Filename  string    `json:"filename,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	SizeBytes int64     `json:"sizeBytes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
