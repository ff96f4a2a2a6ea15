package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

func TestHashIsDeterministic(t *testing.T) {
	assert.Equal(t, Hash("foo.txt"), Hash("foo.txt"))
	assert.NotEqual(t, Hash("foo.txt"), Hash("bar.txt"))
}

func TestBucketCountGrowsWithLevel(t *testing.T) {
	assert.Equal(t, 1, BucketCount(0, 0))
	assert.Equal(t, 2, BucketCount(1, 0))
	assert.Equal(t, 4, BucketCount(2, 0))
}

type DentryTreeTest struct {
	suite.Suite
	dev    *bcache.Bcache
	blocks map[uint64]uint32
	next   uint32
}

func TestDentryTreeTestSuite(t *testing.T) {
	suite.Run(t, new(DentryTreeTest))
}

func (s *DentryTreeTest) SetupTest() {
	mem := bcache.NewMemoryBlockDevice(64)
	s.dev = bcache.New(mem, bcache.Config{})
	s.blocks = make(map[uint64]uint32)
	s.next = 0
}

func (s *DentryTreeTest) resolve(ctx context.Context, dirIno uint32, logicalBlock uint64, grow bool) (uint32, error) {
	key := uint64(dirIno)<<32 | logicalBlock
	if addr, ok := s.blocks[key]; ok {
		return addr, nil
	}
	if !grow {
		return 0, ferrors.New(ferrors.NotFound, "test.resolve", "no block")
	}
	addr := s.next
	s.next++
	s.blocks[key] = addr
	require.NoError(s.T(), s.dev.WriteBlock(ctx, addr, ondisk.NewDentryBlock().Marshal()))
	return addr, nil
}

func (s *DentryTreeTest) TestAddThenFind() {
	ctx := context.Background()
	require.NoError(s.T(), AddLink(ctx, s.dev, s.resolve, 2, 0, 0, "hello.txt", 10, ondisk.FileTypeRegular))

	e, err := FindEntry(ctx, s.dev, s.resolve, 2, 0, 0, "hello.txt")
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 10, e.Ino)
}

func (s *DentryTreeTest) TestDeleteThenNotFound() {
	ctx := context.Background()
	require.NoError(s.T(), AddLink(ctx, s.dev, s.resolve, 2, 0, 0, "a", 5, ondisk.FileTypeRegular))
	require.NoError(s.T(), DeleteEntry(ctx, s.dev, s.resolve, 2, 0, 0, "a"))

	_, err := FindEntry(ctx, s.dev, s.resolve, 2, 0, 0, "a")
	assert.Error(s.T(), err)
}
