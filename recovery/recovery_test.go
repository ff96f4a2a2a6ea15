package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ondisk"
)

type fakePurger struct{ purged []uint32 }

func (p *fakePurger) PurgeOrphan(ctx context.Context, ino uint32) error {
	p.purged = append(p.purged, ino)
	return nil
}

func TestReplayOrphans(t *testing.T) {
	ctx := context.Background()
	mem := bcache.NewMemoryBlockDevice(16)
	dev := bcache.New(mem, bcache.Config{})

	ob := &ondisk.OrphanBlock{EntryCount: 2, Inos: []uint32{5, 9}}
	require.NoError(t, dev.WriteBlock(ctx, 0, ob.Marshal()))

	p := &fakePurger{}
	require.NoError(t, ReplayOrphans(ctx, dev, p, 0, 1))
	require.Equal(t, []uint32{5, 9}, p.purged)
}

type fakeInstaller struct{ installed []uint32 }

func (i *fakeInstaller) InstallNode(ctx context.Context, addr uint32, footer ondisk.NodeFooter, block []byte) error {
	i.installed = append(i.installed, footer.Nid)
	return nil
}

func TestRollForwardOnlyInstallsFsyncMatchingVersion(t *testing.T) {
	ctx := context.Background()
	mem := bcache.NewMemoryBlockDevice(16)
	dev := bcache.New(mem, bcache.Config{})

	fsyncBlock := make([]byte, ondisk.BlockSize)
	ondisk.SetNodeBlockFooter(fsyncBlock, ondisk.NodeFooter{
		Nid: 7, Ino: 7, CpVer: 3,
		Flag: ondisk.NodeFooterFlagType(0, false, true, false),
	})
	require.NoError(t, dev.WriteBlock(ctx, 0, fsyncBlock))

	staleBlock := make([]byte, ondisk.BlockSize)
	ondisk.SetNodeBlockFooter(staleBlock, ondisk.NodeFooter{
		Nid: 8, Ino: 8, CpVer: 2,
		Flag: ondisk.NodeFooterFlagType(0, false, true, false),
	})
	require.NoError(t, dev.WriteBlock(ctx, 1, staleBlock))

	installer := &fakeInstaller{}
	n, err := RollForward(ctx, dev, installer, 0, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint32{7}, installer.installed)
}
