package ferrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(NotFound, "state.GetPeer", "no peer with that id")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Gone))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(Transport, "queue.broadcast", "failed to reach peer", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Transport, KindOf(err))
	assert.Contains(t, err.Error(), cause.Error())
}

func TestKindOfNonFerrorsIsInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(fmt.Errorf("plain error")))
}

func TestIsFalseForWrappedOtherError(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", New(InvalidInput, "op", "bad"))
	assert.True(t, Is(err, InvalidInput))
	assert.False(t, Is(err, NotFound))
}
