package safety

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeContent(t *testing.T) {
	raw := []byte{0x4d, 0x5a, 0x90, 0x00, 0xff}
	b64 := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeContent(b64)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeContent("data:application/octet-stream;base64," + b64)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeContent("data:text/plain,hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = DecodeContent("not base64 at all!")
	assert.Error(t, err)

	_, err = DecodeContent("data:broken")
	assert.Error(t, err)
}
