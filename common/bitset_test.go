package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapSetTestClear(t *testing.T) {
	b := NewBitmap(16)
	assert.False(t, b.Test(3))

	b.Set(3)
	assert.True(t, b.Test(3))
	assert.False(t, b.Test(4))

	b.Clear(3)
	assert.False(t, b.Test(3))
}

func TestBitmapPopCount(t *testing.T) {
	b := NewBitmap(64)
	assert.Equal(t, 0, b.PopCount())

	for _, i := range []int{0, 7, 8, 63} {
		b.Set(i)
	}
	assert.Equal(t, 4, b.PopCount())
}

func TestBitmapFindNextZero(t *testing.T) {
	b := NewBitmap(8)
	for i := 0; i < 5; i++ {
		b.Set(i)
	}
	assert.Equal(t, 5, b.FindNextZero(0, 8))
	assert.Equal(t, -1, b.FindNextZero(5, 5))
}

func TestBitmapFindFreeRun(t *testing.T) {
	b := NewBitmap(16)
	b.Set(0)
	b.Set(1)
	b.Set(5)

	assert.Equal(t, 2, b.FindFreeRun(0, 3, 16))
	assert.Equal(t, -1, b.FindFreeRun(0, 20, 16))
}

func TestBitmapIsAllZero(t *testing.T) {
	b := NewBitmap(8)
	assert.True(t, b.IsAllZero())
	b.Set(4)
	assert.False(t, b.IsAllZero())
}
