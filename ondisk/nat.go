package ondisk

import "encoding/binary"

// NatEntry maps one nid to its owning inode and current physical block
// address, with a version counter bumped on every free->alloc cycle so
// stale SSA summaries can be detected during cleaning (spec §3).
type NatEntry struct {
	Version   uint8
	Ino       uint32
	BlockAddr uint32
}

const natEntryMarshaledSize = 1 + 4 + 4

// IsFree reports whether the entry denotes a free nid (block_addr == 0).
func (e NatEntry) IsFree() bool { return e.BlockAddr == NullAddr }

// IsNew reports whether the nid is reserved but not yet written
// (block_addr == -1, i.e. NewAddr).
func (e NatEntry) IsNew() bool { return e.BlockAddr == NewAddr }

func (e *NatEntry) marshal(buf []byte) {
	buf[0] = e.Version
	binary.LittleEndian.PutUint32(buf[1:], e.Ino)
	binary.LittleEndian.PutUint32(buf[5:], e.BlockAddr)
}

func unmarshalNatEntry(buf []byte) NatEntry {
	return NatEntry{
		Version:   buf[0],
		Ino:       binary.LittleEndian.Uint32(buf[1:]),
		BlockAddr: binary.LittleEndian.Uint32(buf[5:]),
	}
}

// NatBlock packs NATEntryPerBlock NatEntry records.
type NatBlock struct {
	Entries [NATEntryPerBlock]NatEntry
}

// Marshal encodes the NAT block.
func (b *NatBlock) Marshal() []byte {
	buf := make([]byte, BlockSize)
	off := 0
	for i := range b.Entries {
		b.Entries[i].marshal(buf[off:])
		off += natEntryMarshaledSize
	}
	return buf
}

// UnmarshalNatBlock decodes a NAT block.
func UnmarshalNatBlock(block []byte) *NatBlock {
	b := &NatBlock{}
	off := 0
	for i := range b.Entries {
		b.Entries[i] = unmarshalNatEntry(block[off:])
		off += natEntryMarshaledSize
	}
	return b
}

// NatJournalEntry is one {nid, NatEntry} pair riding in the hot-data
// curseg's summary-block journal area, avoiding a full NAT-block write for
// small checkpoints.
type NatJournalEntry struct {
	Nid   uint32
	Entry NatEntry
}

// MaxNatJournalEntries bounds the journal to roughly 23 entries, per spec
// §4.3 ("Up to ~23 dirty NAT entries").
const MaxNatJournalEntries = 23

// SitJournalEntry is one {segno, SitEntry} pair riding in the SIT journal
// area of a summary block.
type SitJournalEntry struct {
	Segno uint32
	Entry SitEntry
}

// MaxSitJournalEntries bounds the SIT journal similarly to the NAT journal.
const MaxSitJournalEntries = 20
