package vnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/ondisk"
)

type VnodeTest struct {
	suite.Suite
}

func TestVnodeTestSuite(t *testing.T) {
	suite.Run(t, new(VnodeTest))
}

func (s *VnodeTest) TestDestroyFiresAtZero() {
	destroyed := false
	v := New(1, &ondisk.InodePayload{}, func() error {
		destroyed = true
		return nil
	})
	v.IncLookup(2)
	ok, err := v.DecLookup(1)
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)
	assert.False(s.T(), destroyed)

	ok, err = v.DecLookup(1)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)
	assert.True(s.T(), destroyed)
}

func (s *VnodeTest) TestUpdateMarksDirty() {
	v := New(1, &ondisk.InodePayload{}, nil)
	assert.False(s.T(), v.IsDirty())
	v.Update(func(ip *ondisk.InodePayload) { ip.Size = 10 })
	assert.True(s.T(), v.IsDirty())
	assert.EqualValues(s.T(), 10, v.Inode().Size)
}

type CacheTest struct {
	suite.Suite
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTest))
}

func (s *CacheTest) TestLookupOrCreateCachesSingleInstance() {
	loads := 0
	c := NewCache(func(ino uint32) (*ondisk.InodePayload, error) {
		loads++
		return &ondisk.InodePayload{}, nil
	}, nil)

	v1, err := c.LookupOrCreate(5)
	require.NoError(s.T(), err)
	v2, err := c.LookupOrCreate(5)
	require.NoError(s.T(), err)
	assert.Same(s.T(), v1, v2)
	assert.Equal(s.T(), 1, loads)
}

func (s *CacheTest) TestForgetEvictsAtZero() {
	c := NewCache(func(ino uint32) (*ondisk.InodePayload, error) {
		return &ondisk.InodePayload{}, nil
	}, nil)

	_, err := c.LookupOrCreate(5)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, c.Len())

	require.NoError(s.T(), c.Forget(5, 1))
	assert.Equal(s.T(), 0, c.Len())
}

func (s *CacheTest) TestExtentMergeAdjacent() {
	var e ExtentInfo
	e, ok := e.Merge(10, 100)
	assert.True(s.T(), ok)
	e, ok = e.Merge(11, 101)
	assert.True(s.T(), ok)
	assert.EqualValues(s.T(), 2, e.Len)

	_, ok = e.Merge(20, 500)
	assert.False(s.T(), ok)
}
