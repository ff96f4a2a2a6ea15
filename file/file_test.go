package file

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/vnode"
)

type fakeAlloc struct {
	next      uint32
	invalided []uint32
}

func (a *fakeAlloc) Alloc(ctx context.Context, cursegType int, nid uint32, ofsInNode uint16, version uint8) (uint32, error) {
	a.next++
	return a.next, nil
}

func (a *fakeAlloc) AllocNodeBlock(ctx context.Context) (uint32, error) {
	a.next++
	return a.next, nil
}

func (a *fakeAlloc) InvalidateBlock(addr uint32) {
	a.invalided = append(a.invalided, addr)
}

type IOTest struct {
	suite.Suite
	dev   *bcache.Bcache
	nodes *nat.NodeManager
	nids  *nat.FreeNidPool
	io    *IO
}

func TestIOTestSuite(t *testing.T) {
	suite.Run(t, new(IOTest))
}

func (s *IOTest) SetupTest() {
	mem := bcache.NewMemoryBlockDevice(64)
	s.dev = bcache.New(mem, bcache.Config{})
	natCache := nat.NewCache(s.dev, 0, 4)
	s.nids = nat.NewFreeNidPool([]uint32{10, 11, 12})
	alloc := &fakeAlloc{next: 20}
	s.nodes = nat.NewNodeManager(s.dev, natCache, s.nids, alloc)
	s.io = NewIO(s.dev, s.nodes, alloc)
}

func (s *IOTest) TestWriteThenReadInlineBlock() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	data := bytes.Repeat([]byte{0x7A}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, 0, data))

	got, err := s.io.Read(ctx, v, 0)
	require.NoError(s.T(), err)
	require.Equal(s.T(), data, got)
}

func (s *IOTest) TestReadHoleReturnsZeroBlock() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	got, err := s.io.Read(ctx, v, 3)
	require.NoError(s.T(), err)
	require.Equal(s.T(), make([]byte, ondisk.BlockSize), got)
}

func (s *IOTest) TestTruncateShrinksSize() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	data := bytes.Repeat([]byte{0x01}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, 0, data))
	require.NoError(s.T(), s.io.Truncate(ctx, v, 0))

	require.EqualValues(s.T(), 0, v.Inode().Size)
}

// TestWriteThenReadSingleIndirectBlock exercises the first block index
// beyond the inline direct array (inode.Nids[0]'s direct node), the path
// that used to resolve to ondisk.NullAddr unconditionally.
func (s *IOTest) TestWriteThenReadSingleIndirectBlock() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	index := uint64(ondisk.AddrsPerInode)
	data := bytes.Repeat([]byte{0xAB}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, index, data))

	got, err := s.io.Read(ctx, v, index)
	require.NoError(s.T(), err)
	require.Equal(s.T(), data, got)
	require.NotEqual(s.T(), ondisk.NullAddr, inode.Nids[0])
}

// TestWriteThenReadDoubleIndirectBlock exercises a block index in the
// slot-2 range (inode.Nids[2], an indirect node whose children are direct
// nodes).
func (s *IOTest) TestWriteThenReadDoubleIndirectBlock() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	index := uint64(ondisk.AddrsPerInode) + 2*uint64(ondisk.AddrsPerBlock) + 5
	data := bytes.Repeat([]byte{0xCD}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, index, data))

	got, err := s.io.Read(ctx, v, index)
	require.NoError(s.T(), err)
	require.Equal(s.T(), data, got)
	require.NotEqual(s.T(), ondisk.NullAddr, inode.Nids[2])
}

// TestWriteThenReadTripleIndirectBlock exercises the slot-4 range
// (inode.Nids[4], an indirect node whose children are themselves indirect
// nodes of direct nodes).
func (s *IOTest) TestWriteThenReadTripleIndirectBlock() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	d := uint64(ondisk.AddrsPerBlock)
	n := uint64(ondisk.NidsPerBlock)
	index := uint64(ondisk.AddrsPerInode) + 2*d + 2*n*d + 3
	data := bytes.Repeat([]byte{0xEF}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, index, data))

	got, err := s.io.Read(ctx, v, index)
	require.NoError(s.T(), err)
	require.Equal(s.T(), data, got)
	require.NotEqual(s.T(), ondisk.NullAddr, inode.Nids[4])
}

// TestWriteOverwriteInvalidatesOldBlock checks that rewriting an already-
// written logical block invalidates its previous physical address rather
// than leaking it (invariant I4).
func (s *IOTest) TestWriteOverwriteInvalidatesOldBlock() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	alloc := s.io.alloc.(*fakeAlloc)

	first := bytes.Repeat([]byte{0x01}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, 0, first))
	firstAddr := inode.Addrs[0]

	second := bytes.Repeat([]byte{0x02}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, 0, second))

	require.Contains(s.T(), alloc.invalided, firstAddr)

	got, err := s.io.Read(ctx, v, 0)
	require.NoError(s.T(), err)
	require.Equal(s.T(), second, got)
}

// TestTruncatePartialPreservesPrefixWithinDirectNode writes two blocks that
// share a single-indirect direct node (spec §4.3's "partial-node
// truncation preserves pre-from entries"), truncates between them, and
// checks the earlier block survives while the later one is invalidated and
// reads back as a hole.
func (s *IOTest) TestTruncatePartialPreservesPrefixWithinDirectNode() {
	ctx := context.Background()
	inode := &ondisk.InodePayload{}
	v := vnode.New(1, inode, func() error { return nil })

	base := uint64(ondisk.AddrsPerInode)
	a := bytes.Repeat([]byte{0x11}, ondisk.BlockSize)
	b := bytes.Repeat([]byte{0x22}, ondisk.BlockSize)
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, base, a))
	require.NoError(s.T(), s.io.WriteBlock(ctx, v, base+1, b))

	alloc := s.io.alloc.(*fakeAlloc)

	require.NoError(s.T(), s.io.Truncate(ctx, v, (base+1)*ondisk.BlockSize))

	got, err := s.io.Read(ctx, v, base)
	require.NoError(s.T(), err)
	require.Equal(s.T(), a, got)

	got, err = s.io.Read(ctx, v, base+1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), make([]byte, ondisk.BlockSize), got)

	require.NotEmpty(s.T(), alloc.invalided)
}
