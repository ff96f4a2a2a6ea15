package ondisk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Superblock is the fixed, rarely-changing description of the volume
// geometry. Two identical copies are stored at fixed offsets (see
// spec.md §6); mount consults both and prefers the first that validates.
type Superblock struct {
	Magic   uint32
	Major   uint16
	Minor   uint16
	UUID    uuid.UUID
	Label   [16]byte // up to 15 bytes + NUL, per mkfs -l

	LogSectorSize       uint32
	LogBlockSize        uint32
	LogBlocksPerSegment  uint32

	SegmentCount       uint32
	SectionCount       uint32
	SegmentsPerSection uint32
	SectionsPerZone    uint32

	SegmentCountCkpt uint32
	SegmentCountSIT  uint32
	SegmentCountNAT  uint32
	SegmentCountSSA  uint32
	SegmentCountMain uint32

	CkptBlkaddr uint32
	SitBlkaddr  uint32
	NatBlkaddr  uint32
	SsaBlkaddr  uint32
	MainBlkaddr uint32

	RootIno uint32
	NodeIno uint32
	MetaIno uint32

	OverprovisionSegmentCount uint32
}

// marshaledSuperblockSize is the fixed on-disk size of the Superblock
// payload, well within one block.
const marshaledSuperblockSize = 256

// Marshal encodes sb into a fixed-size little-endian byte slice.
func (sb *Superblock) Marshal() []byte {
	buf := make([]byte, marshaledSuperblockSize)
	w := bytes.NewBuffer(buf[:0])

	binary.Write(w, binary.LittleEndian, sb.Magic)
	binary.Write(w, binary.LittleEndian, sb.Major)
	binary.Write(w, binary.LittleEndian, sb.Minor)
	w.Write(sb.UUID[:])
	w.Write(sb.Label[:])

	binary.Write(w, binary.LittleEndian, sb.LogSectorSize)
	binary.Write(w, binary.LittleEndian, sb.LogBlockSize)
	binary.Write(w, binary.LittleEndian, sb.LogBlocksPerSegment)

	binary.Write(w, binary.LittleEndian, sb.SegmentCount)
	binary.Write(w, binary.LittleEndian, sb.SectionCount)
	binary.Write(w, binary.LittleEndian, sb.SegmentsPerSection)
	binary.Write(w, binary.LittleEndian, sb.SectionsPerZone)

	binary.Write(w, binary.LittleEndian, sb.SegmentCountCkpt)
	binary.Write(w, binary.LittleEndian, sb.SegmentCountSIT)
	binary.Write(w, binary.LittleEndian, sb.SegmentCountNAT)
	binary.Write(w, binary.LittleEndian, sb.SegmentCountSSA)
	binary.Write(w, binary.LittleEndian, sb.SegmentCountMain)

	binary.Write(w, binary.LittleEndian, sb.CkptBlkaddr)
	binary.Write(w, binary.LittleEndian, sb.SitBlkaddr)
	binary.Write(w, binary.LittleEndian, sb.NatBlkaddr)
	binary.Write(w, binary.LittleEndian, sb.SsaBlkaddr)
	binary.Write(w, binary.LittleEndian, sb.MainBlkaddr)

	binary.Write(w, binary.LittleEndian, sb.RootIno)
	binary.Write(w, binary.LittleEndian, sb.NodeIno)
	binary.Write(w, binary.LittleEndian, sb.MetaIno)

	binary.Write(w, binary.LittleEndian, sb.OverprovisionSegmentCount)

	out := make([]byte, marshaledSuperblockSize)
	copy(out, w.Bytes())
	return out
}

// UnmarshalSuperblock decodes a Superblock from a BlockSize-sized block
// buffer, reading the payload at SuperblockOffset within it.
func UnmarshalSuperblock(block []byte) (*Superblock, error) {
	if len(block) < SuperblockOffset+marshaledSuperblockSize {
		return nil, fmt.Errorf("superblock: short block (%d bytes)", len(block))
	}

	r := bytes.NewReader(block[SuperblockOffset:])
	sb := &Superblock{}

	binary.Read(r, binary.LittleEndian, &sb.Magic)
	if sb.Magic != SuperblockMagic {
		return nil, fmt.Errorf("superblock: bad magic 0x%08x", sb.Magic)
	}
	binary.Read(r, binary.LittleEndian, &sb.Major)
	binary.Read(r, binary.LittleEndian, &sb.Minor)
	r.Read(sb.UUID[:])
	r.Read(sb.Label[:])

	binary.Read(r, binary.LittleEndian, &sb.LogSectorSize)
	binary.Read(r, binary.LittleEndian, &sb.LogBlockSize)
	binary.Read(r, binary.LittleEndian, &sb.LogBlocksPerSegment)

	binary.Read(r, binary.LittleEndian, &sb.SegmentCount)
	binary.Read(r, binary.LittleEndian, &sb.SectionCount)
	binary.Read(r, binary.LittleEndian, &sb.SegmentsPerSection)
	binary.Read(r, binary.LittleEndian, &sb.SectionsPerZone)

	binary.Read(r, binary.LittleEndian, &sb.SegmentCountCkpt)
	binary.Read(r, binary.LittleEndian, &sb.SegmentCountSIT)
	binary.Read(r, binary.LittleEndian, &sb.SegmentCountNAT)
	binary.Read(r, binary.LittleEndian, &sb.SegmentCountSSA)
	binary.Read(r, binary.LittleEndian, &sb.SegmentCountMain)

	binary.Read(r, binary.LittleEndian, &sb.CkptBlkaddr)
	binary.Read(r, binary.LittleEndian, &sb.SitBlkaddr)
	binary.Read(r, binary.LittleEndian, &sb.NatBlkaddr)
	binary.Read(r, binary.LittleEndian, &sb.SsaBlkaddr)
	binary.Read(r, binary.LittleEndian, &sb.MainBlkaddr)

	binary.Read(r, binary.LittleEndian, &sb.RootIno)
	binary.Read(r, binary.LittleEndian, &sb.NodeIno)
	binary.Read(r, binary.LittleEndian, &sb.MetaIno)

	binary.Read(r, binary.LittleEndian, &sb.OverprovisionSegmentCount)

	return sb, nil
}

// Validate checks the cross-field invariant from spec §3: the sum of
// checkpoint + SIT + NAT + reserved(overprovision) + SSA segment counts must
// be strictly less than the total segment count.
func (sb *Superblock) Validate() error {
	if sb.Magic != SuperblockMagic {
		return fmt.Errorf("superblock: bad magic 0x%08x", sb.Magic)
	}

	reserved := sb.SegmentCountCkpt + sb.SegmentCountSIT + sb.SegmentCountNAT +
		sb.SegmentCountSSA + sb.OverprovisionSegmentCount
	if reserved >= sb.SegmentCount {
		return fmt.Errorf(
			"superblock: reserved segments %d >= total segments %d",
			reserved, sb.SegmentCount)
	}

	if sb.SegmentCountMain == 0 {
		return fmt.Errorf("superblock: zero main-area segments")
	}

	return nil
}
