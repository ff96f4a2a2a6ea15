package superblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/ondisk"
)

type InfoTest struct {
	suite.Suite
	info *Info
}

func TestInfoTestSuite(t *testing.T) {
	suite.Run(t, new(InfoTest))
}

func (s *InfoTest) SetupTest() {
	raw := &ondisk.Superblock{SegmentCountMain: 10}
	s.info = New(raw, DefaultMountOptions(), func() {})
}

func (s *InfoTest) TestAdjustBlocks() {
	s.info.AdjustBlocks(100)
	s.info.AdjustBlocks(-40)
	assert.EqualValues(s.T(), 60, s.info.Snapshot().ValidBlockCount)
}

func (s *InfoTest) TestFreeUserBlocks() {
	total := uint64(10) * ondisk.BlocksPerSegment
	s.info.AdjustBlocks(int64(total - 100))
	assert.EqualValues(s.T(), 100, s.info.FreeUserBlocks())
}

func (s *InfoTest) TestFreeUserBlocksSaturatesAtZero() {
	total := uint64(10) * ondisk.BlocksPerSegment
	s.info.AdjustBlocks(int64(total + 500))
	assert.EqualValues(s.T(), 0, s.info.FreeUserBlocks())
}
