package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type PageTest struct {
	suite.Suite
}

func TestPageTestSuite(t *testing.T) {
	suite.Run(t, new(PageTest))
}

func (s *PageTest) TestDirtyTransition() {
	p := NewPage(1, 0, 4096)
	assert.False(s.T(), p.IsDirty())
	assert.True(s.T(), p.MarkDirty())
	assert.True(s.T(), p.IsDirty())
	assert.False(s.T(), p.MarkDirty(), "second MarkDirty should report no transition")
}

func (s *PageTest) TestWritebackClearsDirty() {
	p := NewPage(1, 0, 4096)
	p.MarkDirty()
	p.StartWriteback()
	assert.False(s.T(), p.IsDirty())
	assert.True(s.T(), p.IsWriteback())
	p.EndWriteback()
	assert.False(s.T(), p.IsWriteback())
}

func (s *PageTest) TestRefcount() {
	p := NewPage(1, 0, 4096)
	assert.EqualValues(s.T(), 0, p.Refcount())
	p.IncRef()
	p.IncRef()
	assert.EqualValues(s.T(), 2, p.Refcount())
	p.DecRef()
	assert.EqualValues(s.T(), 1, p.Refcount())
}

func (s *PageTest) TestDecRefBelowZeroPanics() {
	p := NewPage(1, 0, 4096)
	assert.Panics(s.T(), func() { p.DecRef() })
}
