package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTestClear(t *testing.T) {
	b := New(10, false)
	assert.False(t, b.Test(3))
	b.Set(3)
	assert.True(t, b.Test(3))
	b.Clear(3)
	assert.False(t, b.Test(3))
}

func TestOutOfRangeIsNoop(t *testing.T) {
	b := New(4, false)
	b.Set(100)
	assert.False(t, b.Test(100))
}

func TestResizeGrowPreservesBits(t *testing.T) {
	b := New(4, false)
	b.Set(1)
	b.Resize(20)
	require.Equal(t, uint64(20), b.Len())
	assert.True(t, b.Test(1))
	assert.False(t, b.Test(19))
}

func TestResizeGrowSetOnExtend(t *testing.T) {
	b := New(4, true)
	assert.True(t, b.Test(0))
	assert.True(t, b.Test(3))
	b.Resize(12)
	for i := uint64(4); i < 12; i++ {
		assert.True(t, b.Test(i), "bit %d should default set on extend", i)
	}
}

func TestResizeShrink(t *testing.T) {
	b := New(20, false)
	b.Set(15)
	b.Resize(10)
	assert.Equal(t, uint64(10), b.Len())
	assert.False(t, b.Test(15))

	// Growing back past the old shrink point does not resurrect dropped bits.
	b.Resize(20)
	assert.False(t, b.Test(15))
}

func TestFirstUnset(t *testing.T) {
	b := New(5, false)
	b.Set(0)
	b.Set(1)
	idx, ok := b.FirstUnset(5)
	require.True(t, ok)
	assert.Equal(t, uint64(2), idx)
}

func TestFirstUnsetAllSet(t *testing.T) {
	b := New(3, true)
	_, ok := b.FirstUnset(3)
	assert.False(t, ok)
}

func TestCloseIsIdempotentState(t *testing.T) {
	b := New(1, false)
	assert.False(t, b.Closed())
	b.Close()
	assert.True(t, b.Closed())
	b.Close()
	assert.True(t, b.Closed())
}

func TestSet3ResizeAll(t *testing.T) {
	s := NewSet3(4, false)
	s.Resize(8)
	assert.Equal(t, uint64(8), s.Present.Len())
	assert.Equal(t, uint64(8), s.Modified.Len())
	assert.Equal(t, uint64(8), s.Accessed.Len())
}
