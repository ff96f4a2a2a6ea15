package fsck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/segment"
)

func setup(t *testing.T) (*Checker, *segment.SitCache) {
	mem := bcache.NewMemoryBlockDevice(64)
	dev := bcache.New(mem, bcache.Config{})
	sb := &ondisk.Superblock{MainBlkaddr: 0, SegmentCountMain: 4}
	sit := segment.NewSitCache(dev, 0, sb.SegmentCountMain)
	natCache := nat.NewCache(dev, 0, 1)

	walk := func(ctx context.Context) ([]InodeView, error) {
		return []InodeView{
			{Ino: 3, NodeBlockAddr: 0, OwnedBlocks: []uint32{1, 2}},
		}, nil
	}

	return New(dev, sb, sit, natCache, walk), sit
}

func TestCheckCleanWhenSitAndCountersAgree(t *testing.T) {
	ctx := context.Background()
	c, sit := setup(t)

	sit.MarkBlockValid(0, 0)
	sit.MarkBlockValid(0, 1)
	sit.MarkBlockValid(0, 2)

	r, err := c.Check(ctx, ondisk.Checkpoint{ValidBlockCount: 3, ValidInodeCount: 1})
	require.NoError(t, err)
	require.True(t, r.Clean())
}

func TestCheckFlagsSitMismatch(t *testing.T) {
	ctx := context.Background()
	c, sit := setup(t)

	sit.MarkBlockValid(0, 0)
	// blocks 1 and 2 deliberately left unmarked in the SIT bitmap.

	r, err := c.Check(ctx, ondisk.Checkpoint{ValidBlockCount: 3, ValidInodeCount: 1})
	require.NoError(t, err)
	require.False(t, r.Clean())

	var sawMismatch bool
	for _, f := range r.Findings {
		if f.Kind == "sit-mismatch" {
			sawMismatch = true
		}
	}
	require.True(t, sawMismatch)
}

func TestCheckFlagsCounterMismatch(t *testing.T) {
	ctx := context.Background()
	c, sit := setup(t)
	sit.MarkBlockValid(0, 0)
	sit.MarkBlockValid(0, 1)
	sit.MarkBlockValid(0, 2)

	r, err := c.Check(ctx, ondisk.Checkpoint{ValidBlockCount: 99, ValidInodeCount: 1})
	require.NoError(t, err)
	require.False(t, r.Clean())

	cp := &ondisk.Checkpoint{ValidBlockCount: 99, ValidInodeCount: 1}
	c.RepairCounters(r, cp)
	require.EqualValues(t, 3, cp.ValidBlockCount)
	require.True(t, r.Repaired)
}
