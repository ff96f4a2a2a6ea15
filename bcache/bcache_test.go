package bcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BcacheTest struct {
	suite.Suite
	dev *MemoryBlockDevice
	bc  *Bcache
}

func TestBcacheTestSuite(t *testing.T) {
	suite.Run(t, new(BcacheTest))
}

func (s *BcacheTest) SetupTest() {
	s.dev = NewMemoryBlockDevice(16)
	s.bc = New(s.dev, Config{MaxInFlight: 2})
}

func (s *BcacheTest) TestWriteThenRead() {
	ctx := context.Background()
	data := make([]byte, 4096)
	data[0] = 0xAB
	require.NoError(s.T(), s.bc.WriteBlock(ctx, 3, data))

	got, err := s.bc.ReadBlock(ctx, 3)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), byte(0xAB), got[0])
}

func (s *BcacheTest) TestReadBeyondDeviceFails() {
	_, err := s.bc.ReadBlock(context.Background(), 100)
	assert.Error(s.T(), err)
}

func (s *BcacheTest) TestZeroBlock() {
	ctx := context.Background()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = 0xFF
	}
	require.NoError(s.T(), s.bc.WriteBlock(ctx, 0, data))
	require.NoError(s.T(), s.bc.ZeroBlock(ctx, 0))

	got, err := s.bc.ReadBlock(ctx, 0)
	require.NoError(s.T(), err)
	for _, b := range got {
		assert.Equal(s.T(), byte(0), b)
	}
}

func (s *BcacheTest) TestPauseBlocksIO() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.bc.Pause()
	done := make(chan error, 1)
	go func() {
		_, err := s.bc.ReadBlock(ctx, 0)
		done <- err
	}()

	cancel()
	err := <-done
	assert.Error(s.T(), err)
}

func (s *BcacheTest) TestResumeUnblocks() {
	ctx := context.Background()
	s.bc.Pause()
	done := make(chan error, 1)
	go func() {
		_, err := s.bc.ReadBlock(ctx, 0)
		done <- err
	}()
	s.bc.Resume()
	err := <-done
	assert.NoError(s.T(), err)
}
