package segment

import (
	"context"

	"github.com/flashfriendly/f2fs/ondisk"
)

// BlockMover relocates one still-valid block during cleaning: given the
// block's current address and the Summary describing its owner, it
// rewrites the owning node's address (or nat entry) to point at a new LFS
// address and returns that address.
type BlockMover interface {
	MoveBlock(ctx context.Context, oldAddr uint32, summary ondisk.Summary, isNode bool) (newAddr uint32, err error)
}

// Collect cleans one victim segment chosen by policy from candidates: every
// still-valid block in it is relocated via mover, after which the segment's
// SIT entry is fully invalid. Like any other fully-invalidated segment it
// enters the Pre-free list rather than becoming immediately reusable — its
// SIT state isn't durable until the next checkpoint commits it (spec §4.4,
// invariant I5). It returns the cleaned segno, or ok=false if no candidate
// was cleanable.
func (m *Manager) Collect(ctx context.Context, policy VictimPolicy, candidates []uint32, mover BlockMover) (segno uint32, ok bool, err error) {
	var cleanable []uint32
	for _, c := range candidates {
		if IsCleanable(m.sit, c, m.cursegs) {
			cleanable = append(cleanable, c)
		}
	}

	victim, found := GetVictimByDefault(m.sit, policy, cleanable)
	if !found {
		return 0, false, nil
	}

	ssaBlock, err := m.readSummary(ctx, victim)
	if err != nil {
		return 0, false, err
	}

	entry := m.sit.Get(victim)
	base := m.segmentBase(victim)
	for off := 0; off < ondisk.BlocksPerSegment; off++ {
		if !entry.ValidMap.Test(off) {
			continue
		}
		summary := ssaBlock.Entries[off]
		isNode := ssaBlock.Footer.EntryType == ondisk.SumTypeNode
		if _, err := mover.MoveBlock(ctx, base+uint32(off), summary, isNode); err != nil {
			return 0, false, err
		}
		m.sit.MarkBlockInvalid(victim, off)
	}

	m.dirtyMu.Lock()
	for t := range m.dirty {
		delete(m.dirty[t], victim)
	}
	m.dirtyMu.Unlock()

	m.notePrefree(victim)

	return victim, true, nil
}

// readSummary reads the SSA block describing the blocks currently in
// victim, by scanning each curseg's in-memory summary if victim is a
// curseg's own segment (freshly dirtied, not yet flushed to the SSA
// region), else reading the persisted SSA block for it.
func (m *Manager) readSummary(ctx context.Context, victim uint32) (*ondisk.SummaryBlock, error) {
	for _, cs := range m.cursegs {
		cs.mu.Lock()
		segno := cs.Segno
		cs.mu.Unlock()
		if segno == victim {
			return cs.Summary, nil
		}
	}

	ssaAddr := m.ssaBlockAddr(victim)
	raw, err := m.dev.ReadBlock(ctx, ssaAddr)
	if err != nil {
		return nil, err
	}
	return ondisk.UnmarshalSummaryBlock(raw), nil
}

// ssaBlockAddr returns the block address of victim's SSA summary block.
// SetSSABase configures the region's starting address.
func (m *Manager) ssaBlockAddr(segno uint32) uint32 {
	return m.ssaBlkaddr + segno
}

// SetSSABase records the first block of the SSA region, one block per
// segment.
func (m *Manager) SetSSABase(ssaBlkaddr uint32) { m.ssaBlkaddr = ssaBlkaddr }
