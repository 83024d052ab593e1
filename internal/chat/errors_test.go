package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorIsMatchesByCode verifies wrapped and re-messaged copies still
// match their sentinel through errors.Is.
func TestErrorIsMatchesByCode(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	wrapped := fmt.Errorf("load session: %w", ErrStoreUnavailable.Wrap(cause))

	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrUnauthorized)

	custom := ErrRoomNotFound.WithMessage("Room r1 is gone")
	assert.ErrorIs(t, custom, ErrNotFound, "same code family")
}

// TestPublicMessage verifies only coded errors expose their message.
func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "Room access denied", PublicMessage(fmt.Errorf("x: %w", ErrRoomAccessDenied)))
	assert.Equal(t, "Internal error", PublicMessage(errors.New("sql: connection reset")))
	assert.Equal(t, CodeForbidden, Code(ErrRoomAccessDenied))
	assert.Equal(t, "", Code(errors.New("plain")))
}

// TestHasReader verifies the reader set lookup on a message.
func TestHasReader(t *testing.T) {
	m := &Message{ID: "m1", Readers: []Reader{{UserID: "b"}}}
	assert.True(t, m.HasReader("b"))
	assert.False(t, m.HasReader("c"))
}
