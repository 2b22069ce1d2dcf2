package safety

import (
	"encoding/base64"
	"errors"
	"strings"
)

var errNotEncoded = errors.New("content is not base64 or a data URL")

// DecodeContent extracts the binary payload of a file message. Clients send
// either a data URL (data:<mime>;base64,<payload>) or bare base64.
func DecodeContent(content string) ([]byte, error) {
	if strings.HasPrefix(content, "data:") {
		comma := strings.IndexByte(content, ',')
		if comma < 0 {
			return nil, errNotEncoded
		}
		meta, payload := content[5:comma], content[comma+1:]
		if !strings.HasSuffix(meta, ";base64") {
			return []byte(payload), nil
		}
		content = payload
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errNotEncoded
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(content); err == nil {
			return data, nil
		}
	}
	return nil, errNotEncoded
}
