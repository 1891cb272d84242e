package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockMessageRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for _, size := range []int{1, 2, 7, 63, 64} {
		block := make(Block, size)
		for i := range block {
			block[i] = byte(rng.Intn(256))
		}

		original := NewBlockMessage()
		original.Block = block
		original.MaxBytes = 64

		buffer := make([]byte, 128)
		w := NewWriteStream(buffer)
		original.Serialize(w)
		w.Flush()
		require.False(t, w.Error())

		decoded := NewBlockMessage()
		decoded.MaxBytes = 64
		r := NewReadStream(buffer)
		decoded.Serialize(r)
		require.False(t, r.Error())
		assert.Equal(t, block, decoded.Block)
	}
}

func TestBlockMessageRejectsOversize(t *testing.T) {
	original := NewBlockMessage()
	original.Block = make(Block, 65)
	original.MaxBytes = 64

	buffer := make([]byte, 128)
	w := NewWriteStream(buffer)
	original.Serialize(w)
	assert.True(t, w.Error())
}

func TestBlockMessageCorruptionErrorsStream(t *testing.T) {
	original := NewBlockMessage()
	original.Block = Block{1, 2, 3, 4}
	original.MaxBytes = 64

	buffer := make([]byte, 128)
	w := NewWriteStream(buffer)
	original.Serialize(w)
	w.Flush()
	require.False(t, w.Error())

	// Corrupt a byte inside the trailing magic check.
	buffer[5] ^= 0xFF

	decoded := NewBlockMessage()
	decoded.MaxBytes = 64
	r := NewReadStream(buffer)
	decoded.Serialize(r)
	assert.True(t, r.Error())
}

func TestBaseMessageIdAndType(t *testing.T) {
	m := NewBaseMessage(5)
	assert.Equal(t, uint16(5), m.Type())
	m.SetId(42)
	assert.Equal(t, uint16(42), m.Id())
}
