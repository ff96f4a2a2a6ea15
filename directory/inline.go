package directory

import "github.com/flashfriendly/f2fs/ondisk"

// inlineDentryCapacity is how many NrDentryInBlock-style slots fit in the
// inline region aliased over an inode's Addrs array (spec §4.6: small
// directories store their first few entries directly in the inode block,
// avoiding a dentry-block allocation until they outgrow it).
var inlineDentryCapacity = inlineCapacity()

func inlineCapacity() int {
	region := ondisk.AddrsPerInode * 4
	perEntry := dentryMarshaledSizeApprox + ondisk.SlotLen
	n := region / perEntry
	if n > ondisk.NrDentryInBlock {
		n = ondisk.NrDentryInBlock
	}
	return n
}

// dentryMarshaledSizeApprox mirrors ondisk's unexported dentry slot size
// (hash+ino+namelen+type), kept in sync manually since it is not exported.
const dentryMarshaledSizeApprox = 4 + 4 + 2 + 1

// InlineDentryBlock decodes the inline dentry region of inode's marshaled
// block as a bitmap-limited DentryBlock, used when InodeFlags.InlineDentry
// is set.
func InlineDentryBlock(marshaledInode []byte) *ondisk.DentryBlock {
	region := ondisk.InlineDataRegion(marshaledInode)
	padded := make([]byte, ondisk.BlockSize)
	copy(padded, region)
	return ondisk.UnmarshalDentryBlock(padded)
}

// WriteInlineDentryBlock encodes block back into the inode's inline
// region, truncating to whatever fits (callers must have already checked
// InlineFits before adding an entry that would overflow).
func WriteInlineDentryBlock(marshaledInode []byte, block *ondisk.DentryBlock) {
	region := ondisk.InlineDataRegion(marshaledInode)
	encoded := block.Marshal()
	copy(region, encoded[:len(region)])
}

// InlineFits reports whether one more entry needing nameSlots filename
// slots still fits within the inline capacity.
func InlineFits(used int, nameSlots int) bool {
	return used+nameSlots <= inlineDentryCapacity
}
