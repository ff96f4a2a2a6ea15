// Package segment implements segment-level bookkeeping: the SIT cache, the
// six concurrent current-segment write points, dirty-segment tracking and
// victim selection for cleaning, per spec §3/§4.4.
package segment

import (
	"context"
	"sync"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ondisk"
)

// SitCache is the write-back cache over the on-disk SIT: one SitEntry per
// segment, indexed by segment number.
type SitCache struct {
	dev        *bcache.Bcache
	sitBlkaddr uint32

	mu      sync.Mutex
	entries map[uint32]*sitSlot
}

type sitSlot struct {
	e     ondisk.SitEntry
	dirty bool
}

// NewSitCache returns a SIT cache over segmentCount segments backed by the
// SIT region starting at sitBlkaddr.
func NewSitCache(dev *bcache.Bcache, sitBlkaddr uint32, segmentCount uint32) *SitCache {
	c := &SitCache{dev: dev, sitBlkaddr: sitBlkaddr, entries: make(map[uint32]*sitSlot)}
	for segno := uint32(0); segno < segmentCount; segno++ {
		c.entries[segno] = &sitSlot{e: ondisk.NewSitEntry(0)}
	}
	return c
}

// Get returns the current SitEntry for segno.
func (c *SitCache) Get(segno uint32) ondisk.SitEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[segno].e
}

// Update replaces segno's SitEntry and marks it dirty.
func (c *SitCache) Update(segno uint32, e ondisk.SitEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[segno] = &sitSlot{e: e, dirty: true}
}

// MarkBlockValid flips bit blkoff in segno's valid map on, bumping
// ValidBlocks, the bookkeeping step every new data/node block write makes.
func (c *SitCache) MarkBlockValid(segno uint32, blkoff int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.entries[segno]
	if !s.e.ValidMap.Test(blkoff) {
		s.e.ValidMap.Set(blkoff)
		s.e.ValidBlocks++
	}
	s.dirty = true
}

// MarkBlockInvalid flips bit blkoff off, decrementing ValidBlocks, done
// when a block is superseded by an LFS rewrite or freed by GC/truncate.
func (c *SitCache) MarkBlockInvalid(segno uint32, blkoff int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.entries[segno]
	if s.e.ValidMap.Test(blkoff) {
		s.e.ValidMap.Clear(blkoff)
		s.e.ValidBlocks--
	}
	s.dirty = true
}

// DirtyEntries returns every dirty (segno, SitEntry) pair for the
// checkpoint writer's journal/SIT-block flush.
func (c *SitCache) DirtyEntries() []ondisk.SitJournalEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ondisk.SitJournalEntry
	for segno, s := range c.entries {
		if s.dirty {
			out = append(out, ondisk.SitJournalEntry{Segno: segno, Entry: s.e})
		}
	}
	return out
}

// ClearDirty marks the given segments' entries clean after a durable
// flush.
func (c *SitCache) ClearDirty(segnos []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, segno := range segnos {
		if s, ok := c.entries[segno]; ok {
			s.dirty = false
		}
	}
}

// FlushToBlocks writes every dirty SIT entry back to its owning SIT block.
func (c *SitCache) FlushToBlocks(ctx context.Context) error {
	c.mu.Lock()
	dirtyByBlock := make(map[uint32][]uint32)
	for segno, s := range c.entries {
		if !s.dirty {
			continue
		}
		blockIdx := segno / ondisk.SITEntryPerBlock
		dirtyByBlock[blockIdx] = append(dirtyByBlock[blockIdx], segno)
	}
	c.mu.Unlock()

	for blockIdx, segnos := range dirtyByBlock {
		raw, err := c.dev.ReadBlock(ctx, c.sitBlkaddr+blockIdx)
		if err != nil {
			return err
		}
		block := ondisk.UnmarshalSitBlock(raw)

		c.mu.Lock()
		for _, segno := range segnos {
			slot := segno % ondisk.SITEntryPerBlock
			block.Entries[slot] = c.entries[segno].e
		}
		c.mu.Unlock()

		if err := c.dev.WriteBlock(ctx, c.sitBlkaddr+blockIdx, block.Marshal()); err != nil {
			return err
		}
		c.ClearDirty(segnos)
	}
	return nil
}

// FreeSegments returns every segno whose ValidBlocks is zero, the
// allocator's pool of segments available for a new curseg.
func (c *SitCache) FreeSegments() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint32
	for segno, s := range c.entries {
		if s.e.ValidBlocks == 0 {
			out = append(out, segno)
		}
	}
	return out
}

// Utilization returns valid_blocks / BlocksPerSegment for segno, the cost
// term victim selection weighs against segment age.
func (c *SitCache) Utilization(segno uint32) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.entries[segno].e.ValidBlocks) / float64(ondisk.BlocksPerSegment)
}

// Age returns a monotonically increasing staleness proxy for segno (its
// Mtime field), used by cost-benefit victim selection.
func (c *SitCache) Age(segno uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[segno].e.Mtime
}
