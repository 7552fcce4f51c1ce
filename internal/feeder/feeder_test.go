package feeder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeederOneAtATime(t *testing.T) {
	f := New()
	f.Feed(Item{Line: "G1 X1"})
	f.Feed(Item{Line: "G1 X2"})

	item, ok := f.Next()
	assert.True(t, ok)
	assert.Equal(t, "G1 X1", item.Line)
	assert.True(t, f.IsPending())

	// Calling Next again before ack is the caller's mistake to avoid, but Next itself always
	// clears pending and advances: this is what "ack" means in this design.
	item, ok = f.Next()
	assert.True(t, ok)
	assert.Equal(t, "G1 X2", item.Line)

	_, ok = f.Next()
	assert.False(t, ok)
	assert.False(t, f.IsPending())
}

func TestFeederClearKeepsPending(t *testing.T) {
	f := New()
	f.Feed(Item{Line: "G1 X1"})
	_, _ = f.Next()
	assert.True(t, f.IsPending())

	f.Feed(Item{Line: "G1 X2"})
	f.Clear()
	assert.Equal(t, 0, f.Len())
	assert.True(t, f.IsPending())
}

func TestFeederPeekDetectsChange(t *testing.T) {
	f := New()
	assert.False(t, f.Peek())
	f.Feed(Item{Line: "G1 X1"})
	assert.True(t, f.Peek())
	assert.False(t, f.Peek())
	_, _ = f.Next()
	assert.True(t, f.Peek())
}
