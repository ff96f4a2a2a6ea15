package segment

import (
	"context"
	"sync"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// Curseg is one of the six concurrent write points (hot/warm/cold crossed
// with node/data): the segment currently being appended to, the next free
// block offset within it, and its allocation mode.
type Curseg struct {
	mu sync.Mutex

	Type     int
	Segno    uint32
	Blkoff   uint16
	AllocType ondisk.AllocType

	Summary *ondisk.SummaryBlock
}

// Manager owns the six cursegs and the SIT cache, and implements both LFS
// (append-only) and SSR (in-place slack recycling) block allocation per
// spec §4.4.
type Manager struct {
	dev  *bcache.Bcache
	sit  *SitCache
	main uint32 // MainBlkaddr: first block of the main data/node area
	ssaBlkaddr uint32

	cursegs [ondisk.NumCursegType]*Curseg

	dirtyMu sync.Mutex
	dirty   map[int]map[uint32]bool // curseg type -> set of dirty segnos

	prefreeMu sync.Mutex
	prefree   map[uint32]bool // segnos fully invalidated but not yet checkpoint-cleared
}

// NewManager constructs a Manager with the six cursegs seeded from the
// active checkpoint's snapshot. A snapshot that is the zero value across
// every curseg type (the state mkfs hands in, never having written a
// checkpoint yet) is treated as "fresh" rather than "all six cursegs
// really do start at segment 0": each type is instead handed its own
// distinct free segment via newCurseg, so the first block either of them
// writes doesn't land on the same physical address.
func NewManager(dev *bcache.Bcache, sit *SitCache, mainBlkaddr uint32, snapshot [ondisk.NumCursegType]ondisk.CursegSnapshot) *Manager {
	m := &Manager{
		dev:   dev,
		sit:   sit,
		main:  mainBlkaddr,
		dirty: make(map[int]map[uint32]bool),
	}

	fresh := snapshot == [ondisk.NumCursegType]ondisk.CursegSnapshot{}

	for t := 0; t < ondisk.NumCursegType; t++ {
		entryType := ondisk.SumTypeData
		if ondisk.IsNodeType(t) {
			entryType = ondisk.SumTypeNode
		}
		cs := &Curseg{Type: t, Summary: ondisk.NewSummaryBlock(entryType)}
		if !fresh {
			cs.Segno = snapshot[t].Segno
			cs.Blkoff = snapshot[t].Blkoff
			cs.AllocType = snapshot[t].AllocType
		}
		m.cursegs[t] = cs
	}

	if fresh {
		for t := 0; t < ondisk.NumCursegType; t++ {
			if err := m.newCurseg(t); err != nil {
				break
			}
		}
	}

	return m
}

// Snapshot returns the current state of all six cursegs for inclusion in
// the next checkpoint.
func (m *Manager) Snapshot() [ondisk.NumCursegType]ondisk.CursegSnapshot {
	var out [ondisk.NumCursegType]ondisk.CursegSnapshot
	for t, cs := range m.cursegs {
		cs.mu.Lock()
		out[t] = ondisk.CursegSnapshot{Segno: cs.Segno, Blkoff: cs.Blkoff, AllocType: cs.AllocType}
		cs.mu.Unlock()
	}
	return out
}

func (m *Manager) segmentBase(segno uint32) uint32 {
	return m.main + segno*ondisk.BlocksPerSegment
}

func (m *Manager) markDirtySegment(t int, segno uint32) {
	m.dirtyMu.Lock()
	defer m.dirtyMu.Unlock()
	if m.dirty[t] == nil {
		m.dirty[t] = make(map[uint32]bool)
	}
	m.dirty[t][segno] = true
}

// DirtySegments returns every segno marked dirty for curseg type t (the
// DirtyHotData..DirtyColdNode lists named in spec §4.4). Pre-free segments
// are not included; PrefreeSegments returns those.
func (m *Manager) DirtySegments(t int) []uint32 {
	m.dirtyMu.Lock()
	defer m.dirtyMu.Unlock()
	out := make([]uint32, 0, len(m.dirty[t]))
	for segno := range m.dirty[t] {
		out = append(out, segno)
	}
	return out
}

// newCurseg picks a fresh, fully-free segment for curseg type t, switching
// it to LFS allocation. Called when the current segment fills up, and
// during NewManager's fresh-filesystem setup. The SIT alone can't tell a
// free segment from one just claimed as another curseg's current segment
// but not yet written to (MarkBlockValid only fires on the first real
// Alloc into it), so this also skips every segno currently held by
// another curseg.
func (m *Manager) newCurseg(t int) error {
	inUse := make(map[uint32]bool, ondisk.NumCursegType)
	for other, cs := range m.cursegs {
		if other != t && cs != nil {
			inUse[cs.Segno] = true
		}
	}

	m.prefreeMu.Lock()
	prefree := make(map[uint32]bool, len(m.prefree))
	for segno := range m.prefree {
		prefree[segno] = true
	}
	m.prefreeMu.Unlock()

	var chosen uint32
	found := false
	for _, segno := range m.sit.FreeSegments() {
		if !inUse[segno] && !prefree[segno] {
			chosen = segno
			found = true
			break
		}
	}
	if !found {
		return ferrors.New(ferrors.NoSpace, "segment.Manager.newCurseg", "no free segment available")
	}

	cs := m.cursegs[t]
	cs.Segno = chosen
	cs.Blkoff = 0
	cs.AllocType = ondisk.AllocLFS
	entryType := ondisk.SumTypeData
	if ondisk.IsNodeType(t) {
		entryType = ondisk.SumTypeNode
	}
	cs.Summary = ondisk.NewSummaryBlock(entryType)
	return nil
}

// changeCurseg switches curseg type t to SSR allocation over segno,
// reusing the slack (invalid) slots of a partially-valid segment instead
// of appending to a fresh one — the reclaim half of spec §4.4's LFS/SSR
// split.
func (m *Manager) changeCurseg(t int, segno uint32) {
	cs := m.cursegs[t]
	cs.Segno = segno
	cs.Blkoff = 0
	cs.AllocType = ondisk.AllocSSR
}

// nextSSRSlot scans forward from cs.Blkoff for the next invalid (free) slot
// in the SSR segment, since SSR allocation fills gaps rather than
// appending.
func (m *Manager) nextSSRSlot(cs *Curseg) (int, bool) {
	entry := m.sit.Get(cs.Segno)
	for off := int(cs.Blkoff); off < ondisk.BlocksPerSegment; off++ {
		if !entry.ValidMap.Test(off) {
			return off, true
		}
	}
	return 0, false
}

// Alloc reserves the next block for curseg type t, returning its physical
// address and recording a Summary entry tying it back to (nid, ofsInNode).
// It transparently rolls to a new segment (LFS) when the current one is
// full, or advances to the next free slot (SSR) when the curseg is in SSR
// mode.
func (m *Manager) Alloc(ctx context.Context, t int, nid uint32, ofsInNode uint16, version uint8) (uint32, error) {
	cs := m.cursegs[t]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var off int
	switch cs.AllocType {
	case ondisk.AllocSSR:
		slot, ok := m.nextSSRSlot(cs)
		if !ok {
			if err := m.newCurseg(t); err != nil {
				return 0, err
			}
			off = 0
		} else {
			off = slot
		}
	default: // AllocLFS
		if int(cs.Blkoff) >= ondisk.BlocksPerSegment {
			if err := m.newCurseg(t); err != nil {
				return 0, err
			}
		}
		off = int(cs.Blkoff)
	}

	addr := m.segmentBase(cs.Segno) + uint32(off)
	cs.Summary.Entries[off] = ondisk.Summary{Nid: nid, OfsInNode: ofsInNode, Version: version}
	cs.Blkoff = uint16(off + 1)

	m.sit.MarkBlockValid(cs.Segno, off)
	m.markDirtySegment(t, cs.Segno)

	return addr, nil
}

// AllocNodeBlock allocates from the warm-node curseg, the default target
// for indirect/double-indirect node writes (satisfies
// nat.BlockAllocator).
func (m *Manager) AllocNodeBlock(ctx context.Context) (uint32, error) {
	return m.Alloc(ctx, ondisk.CursegWarmNode, 0, 0, 0)
}

// InvalidateBlock marks addr's slot invalid in the SIT and, if that was the
// segment's last valid block, enters the segment into the Pre-free list
// (spec §4.4: a segment becomes Pre when fully invalid, but stays off the
// free-segment pool until the next checkpoint commits that invalidation).
// Satisfies both file.Allocator and nat.BlockAllocator's InvalidateBlock.
func (m *Manager) InvalidateBlock(addr uint32) {
	if addr == ondisk.NullAddr || addr == ondisk.NewAddr {
		return
	}
	segno := (addr - m.main) / ondisk.BlocksPerSegment
	off := int((addr - m.main) % ondisk.BlocksPerSegment)
	m.sit.MarkBlockInvalid(segno, off)
	m.notePrefree(segno)
}

// notePrefree adds segno to the Pre-free list if it is now fully invalid and
// not currently held by any curseg as its live write target.
func (m *Manager) notePrefree(segno uint32) {
	for _, cs := range m.cursegs {
		cs.mu.Lock()
		held := cs.Segno == segno
		cs.mu.Unlock()
		if held {
			return
		}
	}
	if m.sit.Get(segno).ValidBlocks != 0 {
		return
	}

	m.prefreeMu.Lock()
	defer m.prefreeMu.Unlock()
	if m.prefree == nil {
		m.prefree = make(map[uint32]bool)
	}
	m.prefree[segno] = true
}

// PrefreeSegments returns every segno currently on the Pre-free list,
// awaiting the next checkpoint's clear-prefree step.
func (m *Manager) PrefreeSegments() []uint32 {
	m.prefreeMu.Lock()
	defer m.prefreeMu.Unlock()
	out := make([]uint32, 0, len(m.prefree))
	for segno := range m.prefree {
		out = append(out, segno)
	}
	return out
}

// ClearPrefree releases every Pre-free segment back into the ordinary free
// pool and best-effort Trims its physical extent (spec §4.5 step 7, "Clear
// Prefree segments (trim)"). Called once a checkpoint committing those
// segments' invalidated SIT state is itself durable.
func (m *Manager) ClearPrefree(ctx context.Context) error {
	m.prefreeMu.Lock()
	segnos := make([]uint32, 0, len(m.prefree))
	for segno := range m.prefree {
		segnos = append(segnos, segno)
	}
	m.prefree = make(map[uint32]bool)
	m.prefreeMu.Unlock()

	for _, segno := range segnos {
		if err := m.dev.Trim(ctx, m.segmentBase(segno), ondisk.BlocksPerSegment); err != nil {
			return err
		}
	}
	return nil
}

// FlushCursegSummary writes curseg type t's summary block to the SSA
// region at the given block address, as the whole block that
// ondisk.SummaryBlock.Marshal produces (every Entries slot included).
func (m *Manager) FlushCursegSummary(ctx context.Context, t int, ssaAddr uint32) error {
	cs := m.cursegs[t]
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return m.dev.WriteBlock(ctx, ssaAddr, cs.Summary.Marshal())
}
