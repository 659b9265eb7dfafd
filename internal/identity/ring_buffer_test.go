package identity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id int) Event {
	return Event{
		Type:        EventSignedIn,
		PrincipalID: fmt.Sprintf("user-%d", id),
		Timestamp:   time.Now().UTC(),
	}
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	assert.Empty(t, rb.ReadAll())
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("user-%d", i), e.PrincipalID)
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 5)

	// Oldest three are dropped.
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("user-%d", i+3), e.PrincipalID)
	}
}

func TestRingBuffer_ZeroCapacityClamped(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Write(makeEvent(1))
	rb.Write(makeEvent(2))

	events := rb.ReadAll()
	require.Len(t, events, 1)
	assert.Equal(t, "user-2", events[0].PrincipalID)
}
