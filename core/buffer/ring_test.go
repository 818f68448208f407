package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingBufferRoundsUpToPow2(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{0, 1},
		{1, 1},
		{3, 4},
		{1000, 1024},
		{4096, 4096},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NewRingBuffer(c.size).Cap(), "NewRingBuffer(%d)", c.size)
	}
}

func TestRingBufferWriteAllOrNothing(t *testing.T) {
	r := NewRingBuffer(8)
	_, err := r.Write([]byte("abcdef"))
	require.NoError(t, err)

	_, err = r.Write([]byte("ghi"))
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 6, r.Len(), "rejected write must not change Len")
}

func TestRingBufferViewWraps(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]byte("abcdef"))
	r.Advance(5)
	r.Write([]byte("ghijk"))

	a, b, ok := r.View(r.Len())
	require.True(t, ok)
	assert.NotEmpty(t, b, "expected wrapped second segment")
	assert.Equal(t, "fghijk", string(a)+string(b))

	_, _, ok = r.View(r.Len() + 1)
	assert.False(t, ok, "View beyond Len should fail")
}

func TestRingBufferAdvanceClamps(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte("ab"))
	r.Advance(10)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, r.Cap(), r.Free())
}
