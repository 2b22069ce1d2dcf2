package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageIDStrictlyIncreasing(t *testing.T) {
	prev := NewMessageID()
	for i := 0; i < 1000; i++ {
		next := NewMessageID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint([]byte("hello")))
	assert.NotEqual(t, a, Fingerprint([]byte("hello!")))
}

func TestNewConnIDUnique(t *testing.T) {
	assert.NotEqual(t, NewConnID(), NewConnID())
}
