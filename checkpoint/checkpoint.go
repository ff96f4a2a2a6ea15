// Package checkpoint implements the dual-pack atomic checkpoint protocol
// of spec §4.2/§6: two alternating on-disk packs, each built from a
// checkpoint header block, an optional orphan inode list, and a second
// trailing copy of the header block whose CRC and version must both match
// the leading copy for the pack to be considered valid. Dirty NAT and SIT
// entries go to their own NAT/SIT blocks and each curseg's summary block
// goes to the SSA region; no NAT/SIT journal is written.
package checkpoint

import (
	"context"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/segment"
)

// Manager drives the write-checkpoint protocol described in spec §4.2.
type Manager struct {
	dev *bcache.Bcache
	sb  *ondisk.Superblock

	nat *nat.Cache
	sit *segment.SitCache
	seg *segment.Manager

	// lastVersion is the version stamped on the most recently committed
	// pack; the next checkpoint increments it and writes to whichever
	// pack slot is *not* the one holding lastVersion, per spec §4.2's
	// alternation rule.
	lastVersion uint64
	lastPack    int
}

// New constructs a checkpoint Manager for an already-mounted volume.
// startVersion and startPack should come from whichever pack SelectValid
// chose at mount time.
func New(dev *bcache.Bcache, sb *ondisk.Superblock, natCache *nat.Cache, sit *segment.SitCache, seg *segment.Manager, startVersion uint64, startPack int) *Manager {
	return &Manager{dev: dev, sb: sb, nat: natCache, sit: sit, seg: seg, lastVersion: startVersion, lastPack: startPack}
}

// packBlockCount is the base size, in blocks, of one CP pack: the leading
// checkpoint header, one further block slot, and the trailing header copy.
// When orphans are present, one orphan block is added on top of this and
// written right after the leading header. No summary block is part of the
// pack. CpPayload in the header records any additional bitmap blocks the
// pack also carries, per spec §6.
const packBlockCount = 3

// packBaseAddr returns the starting block address of pack index (0 or 1).
// The two packs are laid out back to back starting at the superblock's
// CkptBlkaddr, each sized to SegmentCountCkpt/2 segments' worth of blocks
// (or packBlockCount blocks when that comes to zero).
func (m *Manager) packBaseAddr(pack int) uint32 {
	segBlocks := ondisk.BlocksPerSegment * (m.sb.SegmentCountCkpt / 2)
	if segBlocks == 0 {
		segBlocks = packBlockCount
	}
	return m.sb.CkptBlkaddr + uint32(pack)*segBlocks
}

// SelectValid reads both CP packs and returns the checkpoint and pack index
// of whichever is valid and has the higher version, per spec §4.2's
// "prefer the newest consistent pack" recovery rule. If only one pack
// validates, that one is chosen regardless of version.
func SelectValid(ctx context.Context, dev *bcache.Bcache, sb *ondisk.Superblock) (cp *ondisk.Checkpoint, pack int, err error) {
	var candidates [2]*ondisk.Checkpoint

	for i := 0; i < 2; i++ {
		segBlocks := ondisk.BlocksPerSegment * (sb.SegmentCountCkpt / 2)
		if segBlocks == 0 {
			segBlocks = packBlockCount
		}
		base := sb.CkptBlkaddr + uint32(i)*segBlocks

		head, err := dev.ReadBlock(ctx, base)
		if err != nil {
			continue
		}
		decoded, err := ondisk.UnmarshalCheckpoint(head)
		if err != nil {
			continue
		}

		tailAddr := base + decoded.CpPackTotalBlockCount - 1
		tail, err := dev.ReadBlock(ctx, tailAddr)
		if err != nil {
			continue
		}
		decodedTail, err := ondisk.UnmarshalCheckpoint(tail)
		if err != nil || decodedTail.Version != decoded.Version {
			continue
		}

		candidates[i] = decoded
	}

	switch {
	case candidates[0] != nil && candidates[1] != nil:
		if candidates[0].Version >= candidates[1].Version {
			return candidates[0], 0, nil
		}
		return candidates[1], 1, nil
	case candidates[0] != nil:
		return candidates[0], 0, nil
	case candidates[1] != nil:
		return candidates[1], 1, nil
	default:
		return nil, 0, ferrors.New(ferrors.Corrupt, "checkpoint.SelectValid", "no valid checkpoint pack")
	}
}

// Write performs the ten-step write_checkpoint protocol of spec §4.2:
//  1. freezing new inode/node/data writes is not done here: Write takes
//     none of the superblock's locks, and its callers do not hold them
//  2. flush all dirty node pages
//  3. flush the dirty NAT cache entries into their NAT blocks
//  4. flush the dirty SIT cache entries into their SIT blocks
//  5. flush each curseg's summary block to its segment's SSA block
//  6. snapshot curseg positions and counters into the header
//  7. write the orphan inode list, if any
//  8. write the leading header copy, then the trailing header copy
//  9. flip the active-pack pointer to the pack just written, making the
//     new checkpoint the one roll-forward recovery starts from
//  10. clear the Pre-free segment list (spec §4.5 step 7), trimming each
//      segment now that its invalidation is durable and releasing it back
//      to the free pool for reuse
//
// flushNodes and orphans are supplied by the caller (the node manager and
// the open-fsync-list owner respectively) since this package does not
// itself track dirty node pages or the orphan list.
func (m *Manager) Write(ctx context.Context, flushNodes func(context.Context) error, orphans []uint32, counters Counters) error {
	if flushNodes != nil {
		if err := flushNodes(ctx); err != nil {
			return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "flush dirty node pages", err)
		}
	}

	if err := m.nat.FlushToBlocks(ctx); err != nil {
		return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "flush NAT cache", err)
	}
	if err := m.sit.FlushToBlocks(ctx); err != nil {
		return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "flush SIT cache", err)
	}

	for t, snap := range m.seg.Snapshot() {
		if err := m.seg.FlushCursegSummary(ctx, t, m.sb.SsaBlkaddr+snap.Segno); err != nil {
			return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "flush curseg summary", err)
		}
	}

	nextPack := 1 - m.lastPack
	base := m.packBaseAddr(nextPack)

	cp := ondisk.NewCheckpoint(0, 0)
	cp.Version = m.lastVersion + 1
	cp.ValidBlockCount = counters.ValidBlockCount
	cp.ValidNodeCount = counters.ValidNodeCount
	cp.ValidInodeCount = counters.ValidInodeCount
	cp.FreeSegmentCount = counters.FreeSegmentCount

	snaps := m.seg.Snapshot()
	cp.Cursegs = snaps

	orphanBlocks := 0
	if len(orphans) > 0 {
		orphanBlocks = 1
		cp.Flags |= ondisk.CPOrphanPresentFlag
		cp.OrphanBlockCount = uint32(orphanBlocks)
	}

	cp.CpPackTotalBlockCount = uint32(packBlockCount + orphanBlocks)

	if orphanBlocks > 0 {
		ob := &ondisk.OrphanBlock{EntryCount: uint32(len(orphans)), Inos: orphans}
		if err := m.dev.WriteBlock(ctx, base+1, ob.Marshal()); err != nil {
			return err
		}
	}

	head := cp.Marshal()
	if err := m.dev.WriteBlock(ctx, base, head); err != nil {
		return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "write header copy", err)
	}

	tailAddr := base + cp.CpPackTotalBlockCount - 1
	if err := m.dev.WriteBlock(ctx, tailAddr, head); err != nil {
		return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "write trailing copy", err)
	}

	if err := m.dev.Flush(); err != nil {
		return err
	}

	m.lastVersion = cp.Version
	m.lastPack = nextPack

	if err := m.seg.ClearPrefree(ctx); err != nil {
		return ferrors.Wrap(ferrors.IoError, "checkpoint.Write", "clear prefree segments", err)
	}

	return nil
}

// Counters is the subset of superblock.Info's counters a checkpoint
// snapshots.
type Counters struct {
	ValidBlockCount  uint64
	ValidNodeCount   uint32
	ValidInodeCount  uint32
	FreeSegmentCount uint32
}
