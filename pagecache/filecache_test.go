package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type FileCacheTest struct {
	suite.Suite
	fc *FileCache
}

func TestFileCacheTestSuite(t *testing.T) {
	suite.Run(t, new(FileCacheTest))
}

func (s *FileCacheTest) SetupTest() {
	s.fc = NewFileCache(7, 4096)
}

func (s *FileCacheTest) TestGetOrCreate() {
	p, created := s.fc.GetOrCreate(3)
	assert.True(s.T(), created)
	assert.Equal(s.T(), uint64(3), p.Index)

	p2, created2 := s.fc.GetOrCreate(3)
	assert.False(s.T(), created2)
	assert.Same(s.T(), p, p2)
}

func (s *FileCacheTest) TestEvictRefusesDirty() {
	p, _ := s.fc.GetOrCreate(0)
	p.MarkDirty()
	assert.False(s.T(), s.fc.Evict(0))
	p.StartWriteback()
	p.EndWriteback()
	assert.True(s.T(), s.fc.Evict(0))
}

func (s *FileCacheTest) TestEvictRefusesPinned() {
	p, _ := s.fc.GetOrCreate(0)
	p.IncRef()
	assert.False(s.T(), s.fc.Evict(0))
	p.DecRef()
	assert.True(s.T(), s.fc.Evict(0))
}

func (s *FileCacheTest) TestTruncateDropsBeyondBoundary() {
	s.fc.GetOrCreate(0)
	s.fc.GetOrCreate(1)
	s.fc.GetOrCreate(2)
	s.fc.Truncate(1)
	_, ok := s.fc.Lookup(1)
	assert.False(s.T(), ok)
	_, ok = s.fc.Lookup(0)
	assert.True(s.T(), ok)
}

func (s *FileCacheTest) TestDirtyPages() {
	p0, _ := s.fc.GetOrCreate(0)
	s.fc.GetOrCreate(1)
	p0.MarkDirty()
	dirty := s.fc.DirtyPages()
	assert.Len(s.T(), dirty, 1)
	assert.Equal(s.T(), uint64(0), dirty[0].Index)
}
