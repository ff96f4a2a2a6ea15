package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/segment"
)

type CheckpointTest struct {
	suite.Suite
	dev *bcache.Bcache
	sb  *ondisk.Superblock
	mgr *Manager
}

func TestCheckpointTestSuite(t *testing.T) {
	suite.Run(t, new(CheckpointTest))
}

func (s *CheckpointTest) SetupTest() {
	mem := bcache.NewMemoryBlockDevice(4096)
	s.dev = bcache.New(mem, bcache.Config{})

	s.sb = &ondisk.Superblock{
		SegmentCountCkpt: 2,
		CkptBlkaddr:      0,
		SitBlkaddr:       4 * ondisk.BlocksPerSegment,
		NatBlkaddr:       8 * ondisk.BlocksPerSegment,
		MainBlkaddr:      16 * ondisk.BlocksPerSegment,
		SegmentCountMain: 4,
	}

	natCache := nat.NewCache(s.dev, s.sb.NatBlkaddr, 1)
	sit := segment.NewSitCache(s.dev, s.sb.SitBlkaddr, s.sb.SegmentCountMain)
	var snap [ondisk.NumCursegType]ondisk.CursegSnapshot
	segMgr := segment.NewManager(s.dev, sit, s.sb.MainBlkaddr, snap)

	s.mgr = New(s.dev, s.sb, natCache, sit, segMgr, 0, 1)
}

func (s *CheckpointTest) TestWriteThenSelectValid() {
	ctx := context.Background()

	require.NoError(s.T(), s.mgr.Write(ctx, nil, nil, Counters{ValidBlockCount: 7}))

	cp, pack, err := SelectValid(ctx, s.dev, s.sb)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 0, pack)
	require.EqualValues(s.T(), 1, cp.Version)
	require.EqualValues(s.T(), 7, cp.ValidBlockCount)
}

func (s *CheckpointTest) TestWriteTwiceAlternatesPacks() {
	ctx := context.Background()

	require.NoError(s.T(), s.mgr.Write(ctx, nil, nil, Counters{}))
	require.NoError(s.T(), s.mgr.Write(ctx, nil, nil, Counters{ValidBlockCount: 99}))

	cp, pack, err := SelectValid(ctx, s.dev, s.sb)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, pack)
	require.EqualValues(s.T(), 2, cp.Version)
	require.EqualValues(s.T(), 99, cp.ValidBlockCount)
}

// TestWriteClearsPrefreeSegments checks that Write's tenth step releases
// any segment the SIT emptied out since the last checkpoint, per spec
// §4.5 step 7 and invariant I5.
func (s *CheckpointTest) TestWriteClearsPrefreeSegments() {
	ctx := context.Background()

	segMgr := s.mgr.seg
	addr, err := segMgr.Alloc(ctx, ondisk.CursegColdData, 1, 0, 0)
	require.NoError(s.T(), err)
	segMgr.InvalidateBlock(addr)
	require.NotEmpty(s.T(), segMgr.PrefreeSegments())

	require.NoError(s.T(), s.mgr.Write(ctx, nil, nil, Counters{}))

	require.Empty(s.T(), segMgr.PrefreeSegments())
}

func (s *CheckpointTest) TestWriteWithOrphans() {
	ctx := context.Background()

	require.NoError(s.T(), s.mgr.Write(ctx, nil, []uint32{42, 43}, Counters{}))

	cp, _, err := SelectValid(ctx, s.dev, s.sb)
	require.NoError(s.T(), err)
	require.True(s.T(), cp.HasOrphans())
}
