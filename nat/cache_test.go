package nat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ondisk"
)

type CacheTest struct {
	suite.Suite
	dev   *bcache.Bcache
	cache *Cache
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTest))
}

func (s *CacheTest) SetupTest() {
	mem := bcache.NewMemoryBlockDevice(16)
	s.dev = bcache.New(mem, bcache.Config{})
	s.cache = NewCache(s.dev, 0, 4)
}

func (s *CacheTest) TestSetThenLookup() {
	s.cache.Set(5, ondisk.NatEntry{Ino: 5, BlockAddr: 100})
	got, err := s.cache.Lookup(context.Background(), 5)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 100, got.BlockAddr)
}

func (s *CacheTest) TestDirtyEntriesAndClear() {
	s.cache.Set(1, ondisk.NatEntry{BlockAddr: 10})
	s.cache.Set(2, ondisk.NatEntry{BlockAddr: 20})
	dirty := s.cache.DirtyEntries()
	assert.Len(s.T(), dirty, 2)

	s.cache.ClearDirty([]uint32{1, 2})
	assert.Empty(s.T(), s.cache.DirtyEntries())
}

func (s *CacheTest) TestFlushToBlocksPersists() {
	s.cache.Set(1, ondisk.NatEntry{BlockAddr: 42})
	require.NoError(s.T(), s.cache.FlushToBlocks(context.Background()))
	assert.Empty(s.T(), s.cache.DirtyEntries())

	fresh := NewCache(s.dev, 0, 4)
	got, err := fresh.Lookup(context.Background(), 1)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 42, got.BlockAddr)
}

func TestFreeNidPool(t *testing.T) {
	p := NewFreeNidPool([]uint32{3, 4, 5})
	assert.Equal(t, 3, p.Len())

	nid, err := p.Alloc()
	require.NoError(t, err)
	assert.EqualValues(t, 3, nid)

	p.Free(9)
	assert.Equal(t, 3, p.Len())
}

func TestFreeNidPoolExhausted(t *testing.T) {
	p := NewFreeNidPool(nil)
	_, err := p.Alloc()
	assert.Error(t, err)
}
