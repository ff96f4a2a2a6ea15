// Package nat implements the Node Address Table: the nid -> (ino,
// block_addr, version) mapping spec §3/§4.3 describes, its write-back
// cache, its journal, and the dnode-path node manager built on top of it.
package nat

import (
	"context"
	"sync"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/common"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// Cache is the write-back NAT cache: every read/update goes through an
// in-memory entry keyed by nid. Entries are never evicted; dirty entries
// stay dirty until the next checkpoint flushes them into their NAT blocks
// rather than into a journal.
type Cache struct {
	dev        *bcache.Bcache
	natBlkaddr uint32
	natBlocks  int

	mu      sync.Mutex
	entries map[uint32]*entry
}

type entry struct {
	nat   ondisk.NatEntry
	dirty bool
}

// NewCache returns a NAT cache backed by the NAT region starting at
// natBlkaddr and spanning natBlocks blocks.
func NewCache(dev *bcache.Bcache, natBlkaddr uint32, natBlocks int) *Cache {
	return &Cache{
		dev:        dev,
		natBlkaddr: natBlkaddr,
		natBlocks:  natBlocks,
		entries:    make(map[uint32]*entry),
	}
}

func (c *Cache) blockAndSlot(nid uint32) (blockIdx int, slot int) {
	blockIdx = int(nid) / ondisk.NATEntryPerBlock
	slot = int(nid) % ondisk.NATEntryPerBlock
	return
}

// Lookup returns the current NatEntry for nid, reading the owning NAT
// block from the device on a cache miss.
func (c *Cache) Lookup(ctx context.Context, nid uint32) (ondisk.NatEntry, error) {
	c.mu.Lock()
	if e, ok := c.entries[nid]; ok {
		defer c.mu.Unlock()
		return e.nat, nil
	}
	c.mu.Unlock()

	blockIdx, slot := c.blockAndSlot(nid)
	if blockIdx >= c.natBlocks {
		return ondisk.NatEntry{}, ferrors.New(ferrors.OutOfRange, "nat.Cache.Lookup", "nid beyond NAT region")
	}
	raw, err := c.dev.ReadBlock(ctx, c.natBlkaddr+uint32(blockIdx))
	if err != nil {
		return ondisk.NatEntry{}, err
	}
	block := ondisk.UnmarshalNatBlock(raw)
	nat := block.Entries[slot]

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[nid]; ok {
		return e.nat, nil
	}
	c.entries[nid] = &entry{nat: nat}
	return nat, nil
}

// Set installs a new NatEntry for nid and marks it dirty, pending the next
// checkpoint's journal/NAT-block flush.
func (c *Cache) Set(nid uint32, nat ondisk.NatEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[nid] = &entry{nat: nat, dirty: true}
}

// DirtyEntries returns every currently dirty (nid, NatEntry) pair, for the
// checkpoint writer to journal or flush to NAT blocks.
func (c *Cache) DirtyEntries() []ondisk.NatJournalEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ondisk.NatJournalEntry
	for nid, e := range c.entries {
		if e.dirty {
			out = append(out, ondisk.NatJournalEntry{Nid: nid, Entry: e.nat})
		}
	}
	return out
}

// ClearDirty marks every entry in nids clean, called once the checkpoint
// writer has durably committed them (journal or NAT block write followed
// by the checkpoint's own flush).
func (c *Cache) ClearDirty(nids []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, nid := range nids {
		if e, ok := c.entries[nid]; ok {
			e.dirty = false
		}
	}
}

// FlushToBlocks writes every dirty entry's owning NAT block back to the
// device, used when the dirty set has grown beyond what the journal can
// hold (spec §4.3: "Up to ~23 dirty NAT entries" fit the journal; more
// forces whole-block writes).
func (c *Cache) FlushToBlocks(ctx context.Context) error {
	c.mu.Lock()
	dirtyByBlock := make(map[int][]uint32)
	for nid, e := range c.entries {
		if !e.dirty {
			continue
		}
		blockIdx, _ := c.blockAndSlot(nid)
		dirtyByBlock[blockIdx] = append(dirtyByBlock[blockIdx], nid)
	}
	c.mu.Unlock()

	for blockIdx, nids := range dirtyByBlock {
		raw, err := c.dev.ReadBlock(ctx, c.natBlkaddr+uint32(blockIdx))
		if err != nil {
			return err
		}
		block := ondisk.UnmarshalNatBlock(raw)

		c.mu.Lock()
		for _, nid := range nids {
			_, slot := c.blockAndSlot(nid)
			block.Entries[slot] = c.entries[nid].nat
		}
		c.mu.Unlock()

		if err := c.dev.WriteBlock(ctx, c.natBlkaddr+uint32(blockIdx), block.Marshal()); err != nil {
			return err
		}
		c.ClearDirty(nids)
	}
	return nil
}

// FreeNidPool hands out free nids in FIFO order, backed by a scan of
// free (block_addr == NullAddr) NAT entries performed at mount; NewNode
// reserves one and Free returns one for future reuse.
type FreeNidPool struct {
	q common.Queue[uint32]
}

// NewFreeNidPool returns a pool preloaded with the given free nids.
func NewFreeNidPool(free []uint32) *FreeNidPool {
	p := &FreeNidPool{q: common.NewQueue[uint32]()}
	for _, nid := range free {
		p.q.Push(nid)
	}
	return p
}

// Alloc pops a free nid, or ferrors.NoSpace if none remain.
func (p *FreeNidPool) Alloc() (uint32, error) {
	if p.q.IsEmpty() {
		return 0, ferrors.New(ferrors.NoSpace, "nat.FreeNidPool.Alloc", "no free nid")
	}
	return p.q.Pop(), nil
}

// Free returns nid to the pool, made available for reuse once its NAT
// entry version has been bumped by the caller (checkpoint recovery relies
// on the version bump to detect stale SSA summaries referencing a reused
// nid).
func (p *FreeNidPool) Free(nid uint32) {
	p.q.Push(nid)
}

// Len reports the number of free nids currently queued.
func (p *FreeNidPool) Len() int { return p.q.Len() }
