package ondisk

import (
	"encoding/binary"

	"github.com/flashfriendly/f2fs/common"
)

// SitEntry is the per-segment bookkeeping record described in spec §3:
// type (3-bit), valid_block_count (9-bit, packed here as a plain uint16 for
// simplicity of Go arithmetic), a 64-byte valid_map bitmap and an mtime.
type SitEntry struct {
	Type          uint8
	ValidBlocks   uint16
	ValidMap      common.Bitmap
	Mtime         uint64
}

const sitEntryMarshaledSize = 1 + 2 + 64 + 8 + 5 // padded to a round size

// NewSitEntry returns a zeroed SitEntry for the given segment type.
func NewSitEntry(segType uint8) SitEntry {
	return SitEntry{
		Type:     segType,
		ValidMap: common.NewBitmap(BlocksPerSegment),
	}
}

// CheckInvariant verifies popcount(ValidMap) == ValidBlocks (spec invariant
// for the SIT entry).
func (e *SitEntry) CheckInvariant() bool {
	return e.ValidMap.PopCount() == int(e.ValidBlocks)
}

// Marshal encodes one SitEntry in its fixed-size slot.
func (e *SitEntry) Marshal(buf []byte) {
	buf[0] = e.Type
	binary.LittleEndian.PutUint16(buf[1:], e.ValidBlocks)
	copy(buf[3:3+64], e.ValidMap)
	binary.LittleEndian.PutUint64(buf[67:], e.Mtime)
}

// UnmarshalSitEntry decodes one SitEntry from its fixed-size slot.
func UnmarshalSitEntry(buf []byte) SitEntry {
	e := SitEntry{
		ValidMap: make(common.Bitmap, 64),
	}
	e.Type = buf[0]
	e.ValidBlocks = binary.LittleEndian.Uint16(buf[1:])
	copy(e.ValidMap, buf[3:3+64])
	e.Mtime = binary.LittleEndian.Uint64(buf[67:])
	return e
}

// SitBlock packs SITEntryPerBlock SitEntry records into one on-disk block.
type SitBlock struct {
	Entries [SITEntryPerBlock]SitEntry
}

// Marshal encodes the SIT block.
func (b *SitBlock) Marshal() []byte {
	buf := make([]byte, BlockSize)
	off := 0
	for i := range b.Entries {
		b.Entries[i].Marshal(buf[off:])
		off += sitEntryMarshaledSize
	}
	return buf
}

// UnmarshalSitBlock decodes a SIT block.
func UnmarshalSitBlock(block []byte) *SitBlock {
	b := &SitBlock{}
	off := 0
	for i := range b.Entries {
		b.Entries[i] = UnmarshalSitEntry(block[off:])
		off += sitEntryMarshaledSize
	}
	return b
}
