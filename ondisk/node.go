package ondisk

import "encoding/binary"

// NodeFooter is common to every node block: inode, direct-node and
// indirect-node alike.
type NodeFooter struct {
	Nid        uint32
	Ino        uint32
	Flag       uint32
	CpVer      uint64
	NextBlkaddr uint32
}

const nodeFooterMarshaledSize = 4 + 4 + 4 + 8 + 4

// IsInode reports whether this node block is an inode block (nid == ino).
func (f NodeFooter) IsInode() bool { return f.Nid == f.Ino }

func (f *NodeFooter) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], f.Nid)
	binary.LittleEndian.PutUint32(buf[4:], f.Ino)
	binary.LittleEndian.PutUint32(buf[8:], f.Flag)
	binary.LittleEndian.PutUint64(buf[12:], f.CpVer)
	binary.LittleEndian.PutUint32(buf[20:], f.NextBlkaddr)
}

func unmarshalNodeFooter(buf []byte) NodeFooter {
	return NodeFooter{
		Nid:         binary.LittleEndian.Uint32(buf[0:]),
		Ino:         binary.LittleEndian.Uint32(buf[4:]),
		Flag:        binary.LittleEndian.Uint32(buf[8:]),
		CpVer:       binary.LittleEndian.Uint64(buf[12:]),
		NextBlkaddr: binary.LittleEndian.Uint32(buf[20:]),
	}
}

// Extent is the single contiguous-range read/write hint carried in the
// inode.
type Extent struct {
	FileOfs  uint32
	BlkAddr  uint32
	Len      uint32
}

// InodeFlags packs the i_inline bits from spec §3.
type InodeFlags struct {
	InlineData   bool
	InlineDentry bool
	InlineXattr  bool
	ExtraAttr    bool
	DataExist    bool
}

func (f InodeFlags) pack() uint8 {
	var v uint8
	if f.InlineData {
		v |= 1 << 0
	}
	if f.InlineDentry {
		v |= 1 << 1
	}
	if f.InlineXattr {
		v |= 1 << 2
	}
	if f.ExtraAttr {
		v |= 1 << 3
	}
	if f.DataExist {
		v |= 1 << 4
	}
	return v
}

func unpackInodeFlags(v uint8) InodeFlags {
	return InodeFlags{
		InlineData:   v&(1<<0) != 0,
		InlineDentry: v&(1<<1) != 0,
		InlineXattr:  v&(1<<2) != 0,
		ExtraAttr:    v&(1<<3) != 0,
		DataExist:    v&(1<<4) != 0,
	}
}

// InodePayload is the single-block on-disk inode body: POSIX metadata, the
// inline flag bits, the 923-slot direct address array (doubling as inline
// data/dentry storage), 5 nid slots and the single extent hint.
type InodePayload struct {
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Links uint32
	Size  uint64
	Blocks uint64

	Atime uint64
	Mtime uint64
	Ctime uint64

	Pino  uint32 // parent ino, for reverse-lookup and ".." repair

	Flags InodeFlags
	Name  string // UTF-8, capped at MaxNameLen bytes

	Addrs [AddrsPerInode]uint32
	Nids  [NidSlotsInInode]uint32

	Extent Extent
}

// marshaledInodeHeaderSize is the byte offset of the Addrs array within a
// marshaled inode block: everything in InodePayload that precedes it.
const marshaledInodeHeaderSize = 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 1 + 2 + MaxNameLen + 4*NidSlotsInInode + 4 + 4 + 4

// Marshal encodes the inode block.
func (ip *InodePayload) Marshal() []byte {
	buf := make([]byte, BlockSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], ip.Mode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], ip.Uid)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], ip.Gid)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], ip.Links)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], ip.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], ip.Blocks)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], ip.Atime)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], ip.Mtime)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], ip.Ctime)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], ip.Pino)
	off += 4
	buf[off] = ip.Flags.pack()
	off += 1
	nameLen := len(ip.Name)
	if nameLen > MaxNameLen {
		nameLen = MaxNameLen
	}
	binary.LittleEndian.PutUint16(buf[off:], uint16(nameLen))
	off += 2
	copy(buf[off:off+MaxNameLen], ip.Name[:nameLen])
	off += MaxNameLen
	for _, nid := range ip.Nids {
		binary.LittleEndian.PutUint32(buf[off:], nid)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], ip.Extent.FileOfs)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], ip.Extent.BlkAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], ip.Extent.Len)
	off += 4

	// The address array (and, when inline flags are set, its reinterpreted
	// inline-data/inline-dentry payload) occupies the remainder of the
	// block.
	for _, a := range ip.Addrs {
		binary.LittleEndian.PutUint32(buf[off:], a)
		off += 4
	}

	return buf
}

// InlineDataRegion returns the byte range of buf (a marshaled inode block)
// that holds inline file content or an inline dentry block, aliasing the
// same bytes as the Addrs array per spec §3.
func InlineDataRegion(buf []byte) []byte {
	return buf[marshaledInodeHeaderSize:BlockSize]
}

// UnmarshalInodePayload decodes an inode block.
func UnmarshalInodePayload(block []byte) *InodePayload {
	ip := &InodePayload{}
	off := 0
	ip.Mode = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Uid = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Gid = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Links = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Size = binary.LittleEndian.Uint64(block[off:])
	off += 8
	ip.Blocks = binary.LittleEndian.Uint64(block[off:])
	off += 8
	ip.Atime = binary.LittleEndian.Uint64(block[off:])
	off += 8
	ip.Mtime = binary.LittleEndian.Uint64(block[off:])
	off += 8
	ip.Ctime = binary.LittleEndian.Uint64(block[off:])
	off += 8
	ip.Pino = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Flags = unpackInodeFlags(block[off])
	off += 1
	nameLen := int(binary.LittleEndian.Uint16(block[off:]))
	off += 2
	if nameLen > MaxNameLen {
		nameLen = MaxNameLen
	}
	ip.Name = string(block[off : off+nameLen])
	off += MaxNameLen
	for i := range ip.Nids {
		ip.Nids[i] = binary.LittleEndian.Uint32(block[off:])
		off += 4
	}
	ip.Extent.FileOfs = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Extent.BlkAddr = binary.LittleEndian.Uint32(block[off:])
	off += 4
	ip.Extent.Len = binary.LittleEndian.Uint32(block[off:])
	off += 4

	for i := range ip.Addrs {
		ip.Addrs[i] = binary.LittleEndian.Uint32(block[off:])
		off += 4
	}

	return ip
}

// DirectNodePayload is a direct-node block: up to AddrsPerBlock data block
// addresses.
type DirectNodePayload struct {
	Addrs [AddrsPerBlock]uint32
}

// Marshal encodes a direct-node block.
func (d *DirectNodePayload) Marshal() []byte {
	buf := make([]byte, BlockSize)
	off := 0
	for _, a := range d.Addrs {
		binary.LittleEndian.PutUint32(buf[off:], a)
		off += 4
	}
	return buf
}

// UnmarshalDirectNodePayload decodes a direct-node block.
func UnmarshalDirectNodePayload(block []byte) *DirectNodePayload {
	d := &DirectNodePayload{}
	off := 0
	for i := range d.Addrs {
		d.Addrs[i] = binary.LittleEndian.Uint32(block[off:])
		off += 4
	}
	return d
}

// IndirectNodePayload is an indirect-node block: up to NidsPerBlock child
// nids.
type IndirectNodePayload struct {
	Nids [NidsPerBlock]uint32
}

// Marshal encodes an indirect-node block.
func (d *IndirectNodePayload) Marshal() []byte {
	buf := make([]byte, BlockSize)
	off := 0
	for _, n := range d.Nids {
		binary.LittleEndian.PutUint32(buf[off:], n)
		off += 4
	}
	return buf
}

// UnmarshalIndirectNodePayload decodes an indirect-node block.
func UnmarshalIndirectNodePayload(block []byte) *IndirectNodePayload {
	d := &IndirectNodePayload{}
	off := 0
	for i := range d.Nids {
		d.Nids[i] = binary.LittleEndian.Uint32(block[off:])
		off += 4
	}
	return d
}

// NodeBlockFooter extracts and decodes the node footer from a full node
// block. The footer is placed at the tail of the block so payload layout
// (inode / direct / indirect) stays identical in its leading bytes.
func NodeBlockFooter(block []byte) NodeFooter {
	return unmarshalNodeFooter(block[BlockSize-nodeFooterMarshaledSize:])
}

// SetNodeBlockFooter writes footer into the tail of block.
func SetNodeBlockFooter(block []byte, footer NodeFooter) {
	footer.marshal(block[BlockSize-nodeFooterMarshaledSize:])
}
