package ondisk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flashfriendly/f2fs/common"
)

// CursegSnapshot is one of the six per-curseg records carried in the
// checkpoint block: where each current segment was and how it was
// allocating at the moment of the checkpoint.
type CursegSnapshot struct {
	Segno     uint32
	Blkoff    uint16
	AllocType AllocType
}

// Checkpoint is the fixed-size first block of a CP pack (see spec §3/§6).
// A pack is this block, followed by cp_payload bitmap blocks, orphan
// blocks, summary blocks, and a second identical copy of this block.
type Checkpoint struct {
	Version uint64

	Cursegs [NumCursegType]CursegSnapshot

	ValidBlockCount    uint64
	ValidNodeCount      uint32
	ValidInodeCount     uint32
	FreeSegmentCount    uint32
	ReservedSegmentCount uint32
	OverprovisionSegmentCount uint32

	CpPackTotalBlockCount uint32
	CpPackStartSum        uint32
	CpPayload              uint32

	OrphanBlockCount uint32

	Flags uint32

	SitBitmap []byte
	NatBitmap []byte

	// CRC is computed over every preceding field at marshal time and
	// verified at unmarshal time; its on-disk position is the declared CRC
	// offset at the tail of the block.
	CRC uint32
}

// NewCheckpoint returns a zero-value Checkpoint with bitmaps sized for the
// given SIT/NAT block counts.
func NewCheckpoint(sitBlocks, natBlocks int) *Checkpoint {
	return &Checkpoint{
		SitBitmap: make([]byte, common.CeilDiv(sitBlocks, 8)),
		NatBitmap: make([]byte, common.CeilDiv(natBlocks, 8)),
	}
}

// IsUmount reports whether the UMOUNT flag is set.
func (cp *Checkpoint) IsUmount() bool { return cp.Flags&CPUmountFlag != 0 }

// HasOrphans reports whether the ORPHAN_PRESENT flag is set.
func (cp *Checkpoint) HasOrphans() bool { return cp.Flags&CPOrphanPresentFlag != 0 }

// IsCompactSummary reports whether the COMPACT_SUM flag is set.
func (cp *Checkpoint) IsCompactSummary() bool { return cp.Flags&CPCompactSumFlag != 0 }

// HasError reports whether the sticky ERROR flag is set.
func (cp *Checkpoint) HasError() bool { return cp.Flags&CPErrorFlag != 0 }

// Marshal encodes the checkpoint block, placing its CRC as the final field,
// computed over everything before it.
func (cp *Checkpoint) Marshal() []byte {
	var body bytes.Buffer

	binary.Write(&body, binary.LittleEndian, cp.Version)
	for _, cs := range cp.Cursegs {
		binary.Write(&body, binary.LittleEndian, cs.Segno)
		binary.Write(&body, binary.LittleEndian, cs.Blkoff)
		binary.Write(&body, binary.LittleEndian, uint8(cs.AllocType))
	}
	binary.Write(&body, binary.LittleEndian, cp.ValidBlockCount)
	binary.Write(&body, binary.LittleEndian, cp.ValidNodeCount)
	binary.Write(&body, binary.LittleEndian, cp.ValidInodeCount)
	binary.Write(&body, binary.LittleEndian, cp.FreeSegmentCount)
	binary.Write(&body, binary.LittleEndian, cp.ReservedSegmentCount)
	binary.Write(&body, binary.LittleEndian, cp.OverprovisionSegmentCount)
	binary.Write(&body, binary.LittleEndian, cp.CpPackTotalBlockCount)
	binary.Write(&body, binary.LittleEndian, cp.CpPackStartSum)
	binary.Write(&body, binary.LittleEndian, cp.CpPayload)
	binary.Write(&body, binary.LittleEndian, cp.OrphanBlockCount)
	binary.Write(&body, binary.LittleEndian, cp.Flags)

	binary.Write(&body, binary.LittleEndian, uint32(len(cp.SitBitmap)))
	body.Write(cp.SitBitmap)
	binary.Write(&body, binary.LittleEndian, uint32(len(cp.NatBitmap)))
	body.Write(cp.NatBitmap)

	cp.CRC = common.CRC32C(body.Bytes())

	buf := make([]byte, BlockSize)
	copy(buf, body.Bytes())
	binary.LittleEndian.PutUint32(buf[BlockSize-4:], cp.CRC)
	return buf
}

// UnmarshalCheckpoint decodes a checkpoint block and verifies its CRC.
func UnmarshalCheckpoint(block []byte) (*Checkpoint, error) {
	if len(block) != BlockSize {
		return nil, fmt.Errorf("checkpoint: wrong block size %d", len(block))
	}

	declaredCRC := binary.LittleEndian.Uint32(block[BlockSize-4:])

	r := bytes.NewReader(block)
	cp := &Checkpoint{}

	binary.Read(r, binary.LittleEndian, &cp.Version)
	for i := range cp.Cursegs {
		binary.Read(r, binary.LittleEndian, &cp.Cursegs[i].Segno)
		binary.Read(r, binary.LittleEndian, &cp.Cursegs[i].Blkoff)
		var at uint8
		binary.Read(r, binary.LittleEndian, &at)
		cp.Cursegs[i].AllocType = AllocType(at)
	}
	binary.Read(r, binary.LittleEndian, &cp.ValidBlockCount)
	binary.Read(r, binary.LittleEndian, &cp.ValidNodeCount)
	binary.Read(r, binary.LittleEndian, &cp.ValidInodeCount)
	binary.Read(r, binary.LittleEndian, &cp.FreeSegmentCount)
	binary.Read(r, binary.LittleEndian, &cp.ReservedSegmentCount)
	binary.Read(r, binary.LittleEndian, &cp.OverprovisionSegmentCount)
	binary.Read(r, binary.LittleEndian, &cp.CpPackTotalBlockCount)
	binary.Read(r, binary.LittleEndian, &cp.CpPackStartSum)
	binary.Read(r, binary.LittleEndian, &cp.CpPayload)
	binary.Read(r, binary.LittleEndian, &cp.OrphanBlockCount)
	binary.Read(r, binary.LittleEndian, &cp.Flags)

	var sitLen, natLen uint32
	binary.Read(r, binary.LittleEndian, &sitLen)
	cp.SitBitmap = make([]byte, sitLen)
	r.Read(cp.SitBitmap)
	binary.Read(r, binary.LittleEndian, &natLen)
	cp.NatBitmap = make([]byte, natLen)
	r.Read(cp.NatBitmap)

	cp.CRC = declaredCRC

	// Recompute the CRC over exactly the prefix Marshal checksummed: the
	// fixed fields plus the two variable-length bitmaps, not the zero
	// padding out to BlockSize nor the trailing CRC word.
	consumed := len(block) - r.Len()
	if consumed < 0 {
		consumed = 0
	}

	computed := common.CRC32C(block[:consumed])
	if computed != declaredCRC {
		return nil, fmt.Errorf("checkpoint: CRC mismatch (have 0x%08x, want 0x%08x)", computed, declaredCRC)
	}

	return cp, nil
}

// OrphanBlock is one 4K block of up to MaxOrphanPerBlock orphan inode
// numbers.
type OrphanBlock struct {
	EntryCount uint32
	Inos       []uint32
}

// Marshal encodes the orphan block.
func (ob *OrphanBlock) Marshal() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], ob.EntryCount)
	off := 4
	for _, ino := range ob.Inos {
		binary.LittleEndian.PutUint32(buf[off:], ino)
		off += 4
	}
	return buf
}

// UnmarshalOrphanBlock decodes an orphan block.
func UnmarshalOrphanBlock(block []byte) *OrphanBlock {
	ob := &OrphanBlock{}
	ob.EntryCount = binary.LittleEndian.Uint32(block[0:])
	n := int(ob.EntryCount)
	if n > MaxOrphanPerBlock {
		n = MaxOrphanPerBlock
	}
	ob.Inos = make([]uint32, n)
	off := 4
	for i := 0; i < n; i++ {
		ob.Inos[i] = binary.LittleEndian.Uint32(block[off:])
		off += 4
	}
	return ob
}
