package ondisk

import "encoding/binary"

// Summary gives the reverse mapping physical-block -> owning node slot:
// {nid, ofs_in_node, version}. One per block in the segment the owning SSA
// block describes (spec §3).
type Summary struct {
	Nid       uint32
	OfsInNode uint16
	Version   uint8
}

const summaryMarshaledSize = 4 + 2 + 1

func (s *Summary) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], s.Nid)
	binary.LittleEndian.PutUint16(buf[4:], s.OfsInNode)
	buf[6] = s.Version
}

func unmarshalSummary(buf []byte) Summary {
	return Summary{
		Nid:       binary.LittleEndian.Uint32(buf[0:]),
		OfsInNode: binary.LittleEndian.Uint16(buf[4:]),
		Version:   buf[6],
	}
}

// SummaryFooter identifies whether a summary block describes a data or a
// node segment and carries a checksum over its entries.
type SummaryFooter struct {
	EntryType uint8
	CheckSum  uint16
}

// SummaryBlock is one 4K block: a footer, EntriesInSum Summary records, and
// a trailing journal area shared by the NAT/SIT journals. The two journal
// kinds are mutually exclusive per block — UnmarshalSummaryBlock reads a
// SIT journal from a SumTypeNode block and a NAT journal from any other —
// so Marshal/UnmarshalSummaryBlock only ever serialize whichever one of
// NatJournal/SitJournal is non-empty; a block with both populated is a
// caller bug and Marshal writes the NAT journal first, overlapping the SIT
// journal region.
type SummaryBlock struct {
	Footer     SummaryFooter
	Entries    [EntriesInSum]Summary
	NatJournal []NatJournalEntry
	SitJournal []SitJournalEntry
}

// NewSummaryBlock returns an empty SummaryBlock for the given entry type.
func NewSummaryBlock(entryType uint8) *SummaryBlock {
	return &SummaryBlock{Footer: SummaryFooter{EntryType: entryType}}
}

const sitJournalEntryMarshaledSize = 4 + sitEntryMarshaledSize

// Marshal encodes the summary block. The journal area is serialized as a
// small length-prefixed section following the fixed Entries array. All 512
// Summary records are always written (3584 bytes, 3587 with the footer), so
// only the rest of the block is left for the journal; journal entries that
// would run past the end of the block are dropped.
func (b *SummaryBlock) Marshal() []byte {
	buf := make([]byte, BlockSize)
	buf[0] = b.Footer.EntryType
	binary.LittleEndian.PutUint16(buf[1:], b.Footer.CheckSum)

	off := 3
	for i := range b.Entries {
		if off+summaryMarshaledSize > BlockSize-4 {
			break
		}
		b.Entries[i].marshal(buf[off:])
		off += summaryMarshaledSize
	}

	journalOff := off
	if len(b.SitJournal) > 0 {
		binary.LittleEndian.PutUint16(buf[journalOff:], uint16(len(b.SitJournal)))
		journalOff += 2
		for _, e := range b.SitJournal {
			if journalOff+sitJournalEntryMarshaledSize > BlockSize {
				break
			}
			binary.LittleEndian.PutUint32(buf[journalOff:], e.Segno)
			e.Entry.Marshal(buf[journalOff+4:])
			journalOff += sitJournalEntryMarshaledSize
		}
		return buf
	}

	binary.LittleEndian.PutUint16(buf[journalOff:], uint16(len(b.NatJournal)))
	journalOff += 2
	for _, e := range b.NatJournal {
		if journalOff+13 > BlockSize {
			break
		}
		binary.LittleEndian.PutUint32(buf[journalOff:], e.Nid)
		e.Entry.marshal(buf[journalOff+4:])
		journalOff += 13
	}

	return buf
}

// UnmarshalSummaryBlock decodes a summary block previously produced by
// Marshal. Which journal kind is read is determined by Footer.EntryType
// alone: a SumTypeNode block is read as carrying a SIT journal, any other
// entry type as carrying a NAT journal.
func UnmarshalSummaryBlock(block []byte) *SummaryBlock {
	b := &SummaryBlock{}
	b.Footer.EntryType = block[0]
	b.Footer.CheckSum = binary.LittleEndian.Uint16(block[1:])

	off := 3
	for i := range b.Entries {
		if off+summaryMarshaledSize > BlockSize-4 {
			break
		}
		b.Entries[i] = unmarshalSummary(block[off:])
		off += summaryMarshaledSize
	}

	journalOff := off
	n := int(binary.LittleEndian.Uint16(block[journalOff:]))
	journalOff += 2

	if b.Footer.EntryType == SumTypeNode {
		b.SitJournal = make([]SitJournalEntry, 0, n)
		for i := 0; i < n; i++ {
			if journalOff+sitJournalEntryMarshaledSize > BlockSize {
				break
			}
			segno := binary.LittleEndian.Uint32(block[journalOff:])
			entry := UnmarshalSitEntry(block[journalOff+4:])
			b.SitJournal = append(b.SitJournal, SitJournalEntry{Segno: segno, Entry: entry})
			journalOff += sitJournalEntryMarshaledSize
		}
		return b
	}

	b.NatJournal = make([]NatJournalEntry, 0, n)
	for i := 0; i < n; i++ {
		if journalOff+13 > BlockSize {
			break
		}
		nid := binary.LittleEndian.Uint32(block[journalOff:])
		entry := unmarshalNatEntry(block[journalOff+4:])
		b.NatJournal = append(b.NatJournal, NatJournalEntry{Nid: nid, Entry: entry})
		journalOff += 13
	}

	return b
}
