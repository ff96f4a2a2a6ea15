package bcache

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// Config bounds how much concurrent device I/O the Bcache admits at once,
// the way BlockCacheConfig.GlobalMaxBlocksSem bounds concurrent block
// fetches in the teacher's cache.
type Config struct {
	// MaxInFlight is the maximum number of concurrent ReadBlock/WriteBlock
	// calls against the underlying device.
	MaxInFlight int64
}

// Bcache sits directly on top of a BlockDevice, serializing access to a
// shared scratch buffer (used for zero-fill) and bounding
// concurrent I/O with a weighted semaphore so a burst of writeback or
// readahead requests cannot starve foreground reads.
type Bcache struct {
	dev BlockDevice
	sem *semaphore.Weighted

	scratchMu sync.Mutex
	scratch   []byte

	pauseMu sync.Mutex
	paused  bool
	resume  chan struct{}
}

// New wraps dev with I/O admission control.
func New(dev BlockDevice, cfg Config) *Bcache {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 32
	}
	return &Bcache{
		dev:     dev,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		scratch: make([]byte, ondisk.BlockSize),
	}
}

func (c *Bcache) waitIfPaused(ctx context.Context) error {
	for {
		c.pauseMu.Lock()
		if !c.paused {
			c.pauseMu.Unlock()
			return nil
		}
		ch := c.resume
		c.pauseMu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadBlock reads one block, admission-controlled by the in-flight
// semaphore and blocked while the cache is Pause()d.
func (c *Bcache) ReadBlock(ctx context.Context, addr uint32) ([]byte, error) {
	if err := c.waitIfPaused(ctx); err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, ferrors.Wrap(ferrors.IoError, "bcache.ReadBlock", "acquiring I/O slot", err)
	}
	defer c.sem.Release(1)
	return c.dev.ReadBlock(addr)
}

// WriteBlock writes one block under the same admission control as
// ReadBlock.
func (c *Bcache) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	if err := c.waitIfPaused(ctx); err != nil {
		return err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return ferrors.Wrap(ferrors.IoError, "bcache.WriteBlock", "acquiring I/O slot", err)
	}
	defer c.sem.Release(1)
	return c.dev.WriteBlock(addr, data)
}

// ZeroBlock writes a block of zeroes at addr using the shared scratch
// buffer, avoiding a fresh allocation on the mkfs/truncate hole-punching
// path.
func (c *Bcache) ZeroBlock(ctx context.Context, addr uint32) error {
	c.scratchMu.Lock()
	defer c.scratchMu.Unlock()
	for i := range c.scratch {
		c.scratch[i] = 0
	}
	return c.WriteBlock(ctx, addr, c.scratch)
}

// Trim hints the device that addr..addr+count no longer holds live data.
// FileBlockDevice has no discard ioctl wired (spec §5 leaves TRIM as a
// best-effort hint); Trim degrades to a no-op there and is meaningful only
// for devices that implement a trim-aware BlockDevice.
func (c *Bcache) Trim(ctx context.Context, addr uint32, count uint32) error {
	type trimmer interface {
		Trim(addr, count uint32) error
	}
	if t, ok := c.dev.(trimmer); ok {
		if err := c.waitIfPaused(ctx); err != nil {
			return err
		}
		return t.Trim(addr, count)
	}
	return nil
}

// Flush forwards to the underlying device's durability barrier.
func (c *Bcache) Flush() error { return c.dev.Flush() }

// BlockCount reports the device's block count.
func (c *Bcache) BlockCount() uint32 { return c.dev.BlockCount() }

// Pause blocks new ReadBlock/WriteBlock/Trim calls until Resume is called,
// used by fsck and snapshot-style maintenance that need a quiescent device.
func (c *Bcache) Pause() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
}

// Resume releases callers blocked in Pause.
func (c *Bcache) Resume() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resume)
}

// Close closes the underlying device.
func (c *Bcache) Close() error { return c.dev.Close() }
