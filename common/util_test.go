package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32CMatchesKnownValue(t *testing.T) {
	// "123456789" is the standard CRC-32C check string; its Castagnoli CRC
	// is the well known value 0xE3069283.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
}

func TestCeilDiv(t *testing.T) {
	testCases := []struct {
		a, b, want int
	}{
		{0, 8, 0},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{455, 455, 1},
		{456, 455, 2},
		{5, 0, 0},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, CeilDiv(tc.a, tc.b))
	}
}

func TestAlignUp(t *testing.T) {
	assert.EqualValues(t, 0, AlignUp(0, 4096))
	assert.EqualValues(t, 4096, AlignUp(1, 4096))
	assert.EqualValues(t, 4096, AlignUp(4096, 4096))
	assert.EqualValues(t, 8192, AlignUp(4097, 4096))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, 3, Min(3, 5))
	assert.Equal(t, 5, Min(5, 3))
	assert.Equal(t, 5, Max(3, 5))
	assert.Equal(t, 5, Max(5, 3))

	assert.EqualValues(t, uint32(2), Min(uint32(2), uint32(9)))
	assert.EqualValues(t, uint64(9), Max(uint64(2), uint64(9)))
}
