package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClearTest(t *testing.T) {
	buf := make([]byte, 2)
	assert.False(t, Test(buf, 0))
	Set(buf, 0)
	assert.True(t, Test(buf, 0))
	assert.Equal(t, byte(0x80), buf[0], "bit 0 is the MSB of byte 0")

	Set(buf, 15)
	assert.Equal(t, byte(0x01), buf[1], "bit 15 is the LSB of byte 1")

	Clear(buf, 0)
	assert.False(t, Test(buf, 0))
	assert.True(t, Test(buf, 15))
}

func TestFirstZero(t *testing.T) {
	buf := []byte{0xFF, 0b11110111}
	idx, ok := FirstZero(buf, 16)
	require.True(t, ok)
	assert.EqualValues(t, 12, idx)

	full := []byte{0xFF, 0xFF}
	_, ok = FirstZero(full, 16)
	assert.False(t, ok)
}

func TestFirstZeroRespectsValidBits(t *testing.T) {
	// Only the first 4 bits are valid; byte is otherwise all-zero but
	// those trailing bits must not be reported.
	buf := []byte{0xF0}
	_, ok := FirstZero(buf, 4)
	assert.False(t, ok)
}

func TestCountZeros(t *testing.T) {
	buf := []byte{0b10101010, 0xFF}
	assert.EqualValues(t, 4, CountZeros(buf, 16))
	assert.EqualValues(t, 2, CountZeros(buf, 8))
}

func TestFillPrefix(t *testing.T) {
	buf := make([]byte, 3)
	FillPrefix(buf, 10)
	assert.Equal(t, []byte{0xFF, 0b11000000, 0x00}, buf)

	for i := uint64(0); i < 10; i++ {
		assert.Truef(t, Test(buf, i), "bit %d should be set", i)
	}
	for i := uint64(10); i < 24; i++ {
		assert.Falsef(t, Test(buf, i), "bit %d should be clear", i)
	}
}
