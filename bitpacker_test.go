package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitPackerRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 100; trial++ {
		buffer := make([]byte, 256)
		writer := NewBitWriter(buffer)

		type field struct {
			value uint32
			bits  int
		}
		var fields []field
		totalBits := 0
		for totalBits < len(buffer)*8-32 {
			bits := 1 + rng.Intn(32)
			value := rng.Uint32() & bitMask(bits)
			writer.WriteBits(value, bits)
			fields = append(fields, field{value: value, bits: bits})
			totalBits += bits
		}
		writer.FlushBits()
		require.False(t, writer.Overflow())

		reader := NewBitReader(buffer)
		for i, f := range fields {
			got := reader.ReadBits(f.bits)
			require.Equalf(t, f.value, got, "field %d (%d bits)", i, f.bits)
		}
		require.False(t, reader.Overflow())
	}
}

func TestBitPackerMasksHighBits(t *testing.T) {
	for bits := 1; bits <= 32; bits++ {
		buffer := make([]byte, 8)
		writer := NewBitWriter(buffer)
		writer.WriteBits(0xFFFFFFFF, bits)
		writer.FlushBits()

		reader := NewBitReader(buffer)
		assert.Equal(t, bitMask(bits), reader.ReadBits(bits))
	}
}

func TestBitWriterOverflow(t *testing.T) {
	buffer := make([]byte, 4)
	writer := NewBitWriter(buffer)

	writer.WriteBits(0xAAAAAAAA, 32)
	require.False(t, writer.Overflow())

	writer.WriteBits(1, 1)
	assert.True(t, writer.Overflow())

	// Once overflowed, writes are no-ops and the buffer is untouched.
	writer.WriteBits(0xFFFFFFFF, 32)
	writer.FlushBits()

	reader := NewBitReader(buffer)
	assert.Equal(t, uint32(0xAAAAAAAA), reader.ReadBits(32))
}

func TestBitReaderOverflowReturnsZero(t *testing.T) {
	buffer := make([]byte, 4)
	reader := NewBitReader(buffer)

	reader.ReadBits(32)
	require.False(t, reader.Overflow())

	assert.Equal(t, uint32(0), reader.ReadBits(1))
	assert.True(t, reader.Overflow())
	assert.Equal(t, uint32(0), reader.ReadBits(32))
}

func TestBitWriterFlushPadsWithZeros(t *testing.T) {
	buffer := make([]byte, 8)
	writer := NewBitWriter(buffer)
	writer.WriteBits(0x7, 3)
	writer.FlushBits()

	assert.Equal(t, 3, writer.BitsWritten())
	assert.Equal(t, 1, writer.BytesWritten())

	reader := NewBitReader(buffer)
	assert.Equal(t, uint32(0x7), reader.ReadBits(3))
	assert.Equal(t, uint32(0), reader.ReadBits(29))
}

func TestBitPackerPartialTailWord(t *testing.T) {
	// A 6-byte buffer forces the second word to be written short.
	buffer := make([]byte, 6)
	writer := NewBitWriter(buffer)
	writer.WriteBits(0x12345678, 32)
	writer.WriteBits(0xBEEF, 16)
	writer.FlushBits()
	require.False(t, writer.Overflow())

	reader := NewBitReader(buffer)
	assert.Equal(t, uint32(0x12345678), reader.ReadBits(32))
	assert.Equal(t, uint32(0xBEEF), reader.ReadBits(16))
}
