package vfsadapter

import (
	"context"
	"os"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/file"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/segment"
	"github.com/flashfriendly/f2fs/superblock"
	"github.com/flashfriendly/f2fs/vnode"
)

// fsHarness wires every core package together the way cmd/mount does, but
// backed by bcache.NewMemoryBlockDevice and a map-based directory resolver
// in the style of directory_test.go's DentryTreeTest, rather than a real
// mkfs'd device.
type fsHarness struct {
	suite.Suite

	dev      *bcache.Bcache
	sit      *segment.SitCache
	segMgr   *segment.Manager
	natCache *nat.Cache
	nids     *nat.FreeNidPool
	nodes    *nat.NodeManager
	io       *file.IO
	vnodes   *vnode.Cache
	fs       *FS

	dirBlocks map[uint64]uint32
	nextDir   uint32

	rootIno uint32
}

const harnessSegmentCount = 8
const harnessMainBlkaddr = 4
const harnessDirBlocks = 64

func TestFSHarnessSuite(t *testing.T) {
	suite.Run(t, new(fsHarness))
}

func (s *fsHarness) SetupTest() {
	ctx := context.Background()

	mem := bcache.NewMemoryBlockDevice(harnessMainBlkaddr + harnessSegmentCount*ondisk.BlocksPerSegment + harnessDirBlocks)
	s.dev = bcache.New(mem, bcache.Config{})
	s.sit = segment.NewSitCache(s.dev, 0, harnessSegmentCount)
	s.segMgr = segment.NewManager(s.dev, s.sit, harnessMainBlkaddr, [ondisk.NumCursegType]ondisk.CursegSnapshot{})

	s.natCache = nat.NewCache(s.dev, 0, 4)
	free := make([]uint32, 0, 100)
	for nid := uint32(10); nid < 110; nid++ {
		free = append(free, nid)
	}
	s.nids = nat.NewFreeNidPool(free)
	s.nodes = nat.NewNodeManager(s.dev, s.natCache, s.nids, s.segMgr)
	s.io = file.NewIO(s.dev, s.nodes, s.segMgr)

	s.vnodes = vnode.NewCache(s.loadInode, func(ino uint32) error { return nil })

	s.dirBlocks = make(map[uint64]uint32)
	s.nextDir = harnessMainBlkaddr + harnessSegmentCount*ondisk.BlocksPerSegment

	rawSb := &ondisk.Superblock{SegmentCountMain: harnessSegmentCount}
	sb := superblock.New(rawSb, superblock.DefaultMountOptions(), func() {})

	maxLevel := func(ino uint32) int { return 2 }

	s.rootIno = uint32(fuseops.RootInodeID)
	s.seedRoot(ctx)

	s.fs = New(sb, s.vnodes, s.io, s.resolve, maxLevel, 0, s.nids, s.natCache, s.segMgr)
}

func (s *fsHarness) loadInode(ino uint32) (*ondisk.InodePayload, error) {
	ctx := context.Background()
	entry, err := s.natCache.Lookup(ctx, ino)
	if err != nil {
		return nil, err
	}
	raw, err := s.dev.ReadBlock(ctx, entry.BlockAddr)
	if err != nil {
		return nil, err
	}
	return ondisk.UnmarshalInodePayload(raw), nil
}

// resolve maps (dirIno, logicalBlock) to a dentry block address, growing a
// fresh block on demand the way directory_test.go's DentryTreeTest does.
func (s *fsHarness) resolve(ctx context.Context, dirIno uint32, logicalBlock uint64, grow bool) (uint32, error) {
	key := uint64(dirIno)<<32 | logicalBlock
	if addr, ok := s.dirBlocks[key]; ok {
		return addr, nil
	}
	if !grow {
		return 0, ferrors.New(ferrors.NotFound, "test.resolve", "no block")
	}
	addr := s.nextDir
	s.nextDir++
	s.dirBlocks[key] = addr
	if err := s.dev.WriteBlock(ctx, addr, ondisk.NewDentryBlock().Marshal()); err != nil {
		return 0, err
	}
	return addr, nil
}

func (s *fsHarness) seedRoot(ctx context.Context) {
	inode := &ondisk.InodePayload{Mode: uint32(os.ModeDir | 0755), Links: 2}
	block := make([]byte, ondisk.BlockSize)
	copy(block, inode.Marshal())
	ondisk.SetNodeBlockFooter(block, ondisk.NodeFooter{Nid: s.rootIno, Ino: s.rootIno})

	addr, err := s.segMgr.Alloc(ctx, ondisk.CursegHotNode, s.rootIno, 0, 0)
	s.Require().NoError(err)
	s.Require().NoError(s.dev.WriteBlock(ctx, addr, block))
	s.natCache.Set(s.rootIno, ondisk.NatEntry{Ino: s.rootIno, BlockAddr: addr})
}

func (s *fsHarness) TestMkDirThenLookUp() {
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub", Mode: 0755}
	require.NoError(s.T(), s.fs.MkDir(ctx, mkdirOp))
	assert.NotZero(s.T(), mkdirOp.Entry.Child)

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "sub"}
	require.NoError(s.T(), s.fs.LookUpInode(ctx, lookupOp))
	assert.Equal(s.T(), mkdirOp.Entry.Child, lookupOp.Entry.Child)
	assert.True(s.T(), lookupOp.Entry.Attributes.Mode.IsDir())
}

func (s *fsHarness) TestLookUpMissingNameReturnsENOENT() {
	ctx := context.Background()
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := s.fs.LookUpInode(ctx, op)
	assert.Error(s.T(), err)
}

func (s *fsHarness) TestCreateWriteReadRoundTrip() {
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "hello.txt", Mode: 0644}
	require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))

	openOp := &fuseops.OpenFileOp{Inode: createOp.Entry.Child}
	require.NoError(s.T(), s.fs.OpenFile(ctx, openOp))

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Offset: 0, Data: []byte("hello, f2fs")}
	require.NoError(s.T(), s.fs.WriteFile(ctx, writeOp))

	readOp := &fuseops.ReadFileOp{
		Inode:  createOp.Entry.Child,
		Offset: 0,
		Dst:    make([]byte, 64),
	}
	require.NoError(s.T(), s.fs.ReadFile(ctx, readOp))
	assert.Equal(s.T(), "hello, f2fs", string(readOp.Dst[:readOp.BytesRead]))
}

func (s *fsHarness) TestWriteAcrossBlockBoundaryReadsBack() {
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "big.bin", Mode: 0644}
	require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))

	data := make([]byte, ondisk.BlockSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Offset: 0, Data: data}
	require.NoError(s.T(), s.fs.WriteFile(ctx, writeOp))

	readOp := &fuseops.ReadFileOp{
		Inode:  createOp.Entry.Child,
		Offset: 0,
		Dst:    make([]byte, len(data)),
	}
	require.NoError(s.T(), s.fs.ReadFile(ctx, readOp))
	assert.Equal(s.T(), data, readOp.Dst[:readOp.BytesRead])
}

func (s *fsHarness) TestSetInodeAttributesTruncatesShorter() {
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "t.txt", Mode: 0644}
	require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Offset: 0, Data: []byte("0123456789")}
	require.NoError(s.T(), s.fs.WriteFile(ctx, writeOp))

	newSize := uint64(4)
	setOp := &fuseops.SetInodeAttributesOp{Inode: createOp.Entry.Child, Size: &newSize}
	require.NoError(s.T(), s.fs.SetInodeAttributes(ctx, setOp))
	assert.EqualValues(s.T(), 4, setOp.Attributes.Size)
}

func (s *fsHarness) TestSetInodeAttributesRejectsModeChange() {
	ctx := context.Background()
	mode := os.FileMode(0600)
	op := &fuseops.SetInodeAttributesOp{Inode: fuseops.InodeID(s.rootIno), Mode: &mode}
	assert.Error(s.T(), s.fs.SetInodeAttributes(ctx, op))
}

func (s *fsHarness) TestUnlinkRemovesEntry() {
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "gone.txt", Mode: 0644}
	require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))

	require.NoError(s.T(), s.fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "gone.txt"}))

	err := s.fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "gone.txt"})
	assert.Error(s.T(), err)
}

func (s *fsHarness) TestRmDirRemovesEmptySubdir() {
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "emptydir", Mode: 0755}
	require.NoError(s.T(), s.fs.MkDir(ctx, mkdirOp))

	require.NoError(s.T(), s.fs.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "emptydir"}))

	err := s.fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "emptydir"})
	assert.Error(s.T(), err)
}

func (s *fsHarness) TestRenameMovesEntryToNewName() {
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "old.txt", Mode: 0644}
	require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))

	require.NoError(s.T(), s.fs.Rename(ctx, &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID,
		OldName:   "old.txt",
		NewParent: fuseops.RootInodeID,
		NewName:   "new.txt",
	}))

	err := s.fs.LookUpInode(ctx, &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "old.txt"})
	assert.Error(s.T(), err)

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "new.txt"}
	require.NoError(s.T(), s.fs.LookUpInode(ctx, lookupOp))
	assert.Equal(s.T(), createOp.Entry.Child, lookupOp.Entry.Child)
}

func (s *fsHarness) TestReadDirListsCreatedEntries() {
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: name, Mode: 0644}
		require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))
	}

	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(s.T(), s.fs.OpenDir(ctx, openOp))

	readOp := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: openOp.Handle, Offset: 0, Dst: make([]byte, 4096)}
	require.NoError(s.T(), s.fs.ReadDir(ctx, readOp))
	assert.Greater(s.T(), readOp.BytesRead, 0)

	entries, err := s.fs.listDir(ctx, s.rootIno)
	require.NoError(s.T(), err)
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(s.T(), names["a.txt"])
	assert.True(s.T(), names["b.txt"])
	assert.True(s.T(), names["c.txt"])

	require.NoError(s.T(), s.fs.ReleaseDirHandle(ctx, &fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}))
}

func (s *fsHarness) TestReadDirPastEndReturnsZeroBytes() {
	ctx := context.Background()
	readOp := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Offset: 1000, Dst: make([]byte, 4096)}
	require.NoError(s.T(), s.fs.ReadDir(ctx, readOp))
	assert.Zero(s.T(), readOp.BytesRead)
}

func (s *fsHarness) TestCreateSymlinkThenReadSymlink() {
	ctx := context.Background()

	createOp := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "link", Target: "hello.txt"}
	require.NoError(s.T(), s.fs.CreateSymlink(ctx, createOp))

	readOp := &fuseops.ReadSymlinkOp{Inode: createOp.Entry.Child}
	require.NoError(s.T(), s.fs.ReadSymlink(ctx, readOp))
	assert.Equal(s.T(), "hello.txt", readOp.Target)
}

func (s *fsHarness) TestForgetInodeDoesNotError() {
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f.txt", Mode: 0644}
	require.NoError(s.T(), s.fs.CreateFile(ctx, createOp))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "f.txt"}
	require.NoError(s.T(), s.fs.LookUpInode(ctx, lookupOp))

	require.NoError(s.T(), s.fs.ForgetInode(ctx, &fuseops.ForgetInodeOp{Inode: lookupOp.Entry.Child, N: 2}))
}

func (s *fsHarness) TestStatFSReportsMainAreaBlocks() {
	ctx := context.Background()
	op := &fuseops.StatFSOp{}
	require.NoError(s.T(), s.fs.StatFS(ctx, op))
	assert.EqualValues(s.T(), harnessSegmentCount*ondisk.BlocksPerSegment, op.Blocks)
	assert.EqualValues(s.T(), ondisk.BlockSize, op.IoSize)
}

func (s *fsHarness) TestGetInodeAttributesReturnsDirAttrsForRoot() {
	ctx := context.Background()
	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.RootInodeID}
	require.NoError(s.T(), s.fs.GetInodeAttributes(ctx, op))
	assert.True(s.T(), op.Attributes.Mode.IsDir())
	assert.EqualValues(s.T(), 2, op.Attributes.Nlink)
}

func TestDirentTypeMapping(t *testing.T) {
	assert.Equal(t, fuseutil.DT_Directory, direntType(ondisk.FileTypeDirectory))
	assert.Equal(t, fuseutil.DT_Link, direntType(ondisk.FileTypeSymlink))
	assert.Equal(t, fuseutil.DT_File, direntType(ondisk.FileTypeRegular))
}
