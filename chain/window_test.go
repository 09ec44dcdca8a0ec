package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowWalker_ClipsToEnd(t *testing.T) {
	w := NewWindowWalker(10000, 12050, 5000, 500)
	lo, hi := w.Window()
	assert.Equal(t, uint64(10000), lo)
	assert.Equal(t, uint64(12050), hi)
	w.Advance()
	assert.True(t, w.Done())
}

func TestWindowWalker_ConsecutiveWindows(t *testing.T) {
	w := NewWindowWalker(0, 2500, 1000, 500)
	var got [][2]uint64
	for !w.Done() {
		lo, hi := w.Window()
		got = append(got, [2]uint64{lo, hi})
		w.Advance()
	}
	assert.Equal(t, [][2]uint64{{0, 1000}, {1001, 2001}, {2002, 2500}}, got)
}

func TestWindowWalker_ShrinkFloor(t *testing.T) {
	w := NewWindowWalker(0, 100000, 5000, 500)

	require.True(t, w.Shrink())
	assert.Equal(t, uint64(1000), w.BatchSize())
	require.True(t, w.Shrink())
	assert.Equal(t, uint64(500), w.BatchSize())
	assert.False(t, w.Shrink())
	assert.Equal(t, uint64(500), w.BatchSize())

	// shrinking keeps the window start
	lo, hi := w.Window()
	assert.Equal(t, uint64(0), lo)
	assert.Equal(t, uint64(500), hi)
}

func TestWindowWalker_BelowFloorCannotShrink(t *testing.T) {
	w := NewWindowWalker(0, 100, 300, 500)
	assert.False(t, w.Shrink())
	assert.Equal(t, uint64(300), w.BatchSize())
}
