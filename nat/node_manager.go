package nat

import (
	"context"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// BlockAllocator is satisfied by the segment package: given a node/data
// hint it returns a freshly allocated physical block address, LFS or SSR
// per the current segment's allocation mode, and tracks a block's SIT
// state once it is no longer referenced.
type BlockAllocator interface {
	AllocNodeBlock(ctx context.Context) (uint32, error)
	InvalidateBlock(addr uint32)
}

// NodeManager resolves a file-offset to the dnode (direct node) owning it,
// walking the direct/indirect/double-indirect/triple-indirect nid tree
// rooted at the inode's Nids slots, per spec §3/§4.5.
type NodeManager struct {
	dev   *bcache.Bcache
	nat   *Cache
	nids  *FreeNidPool
	alloc BlockAllocator
}

// NewNodeManager wires the NAT cache, free-nid pool and block allocator
// together.
func NewNodeManager(dev *bcache.Bcache, nat *Cache, nids *FreeNidPool, alloc BlockAllocator) *NodeManager {
	return &NodeManager{dev: dev, nat: nat, nids: nids, alloc: alloc}
}

// directIndexLevel0Cap is the size of the direct-in-inode range: block
// indices below it live in inode.Addrs itself. Beyond it, the 5 nid slots
// of inode.Nids form the fixed tree of spec §3:
//
//	slot 0, 1: one node hop to a direct node (AddrsPerBlock data addrs each)
//	slot 2, 3: two node hops, through an indirect node of direct-node
//	           children (NidsPerBlock*AddrsPerBlock data addrs each)
//	slot 4:    three node hops, through an indirect node whose children are
//	           themselves indirect nodes of direct-node children
//	           (NidsPerBlock*NidsPerBlock*AddrsPerBlock data addrs)
const (
	directIndexLevel0Cap = ondisk.AddrsPerInode
)

// levelForSlot reports the node-hop depth (1, 2 or 3) of inode.Nids[slot].
func levelForSlot(slot int) int {
	switch slot {
	case 0, 1:
		return 1
	case 2, 3:
		return 2
	default:
		return 3
	}
}

// slotBounds[slot] is the exclusive upper bound, in units of block indices
// past directIndexLevel0Cap, of the range addressed by inode.Nids[slot].
func slotBounds() [ondisk.NidSlotsInInode]uint64 {
	d := uint64(ondisk.AddrsPerBlock)
	n := uint64(ondisk.NidsPerBlock)
	return [ondisk.NidSlotsInInode]uint64{
		d,
		2 * d,
		2*d + n*d,
		2*d + 2*n*d,
		2*d + 2*n*d + n*n*d,
	}
}

// DnodePath describes the resolved path from an inode to the direct node
// (or the inode itself, for small files) owning a given block index, and
// the offset within that node's address array.
type DnodePath struct {
	// NodeAddrs is every node block address walked below the inode (the
	// inode itself is not included), starting at the node its Nids slot
	// names and ending at the direct node whose address array holds the
	// target slot.
	NodeAddrs []uint32
	// NodeNids mirrors NodeAddrs with each node's nid.
	NodeNids []uint32
	// OfsInNode is the slot index within the final (direct) node's address
	// array.
	OfsInNode int
	// InInode reports whether the target slot is inode.Addrs directly
	// (file fits within the inline direct range).
	InInode bool
}

// GetDnodeOfData walks ino's nid tree to find the direct node owning
// blockIndex, allocating intermediate indirect nodes along the way when
// alloc is true (the write path) and returning ferrors.NotFound when alloc
// is false and a hole is encountered (the read path).
func (m *NodeManager) GetDnodeOfData(ctx context.Context, ino uint32, inode *ondisk.InodePayload, blockIndex uint64, alloc bool) (*DnodePath, error) {
	if blockIndex < uint64(directIndexLevel0Cap) {
		return &DnodePath{InInode: true, OfsInNode: int(blockIndex)}, nil
	}

	remaining := blockIndex - uint64(directIndexLevel0Cap)
	d := uint64(ondisk.AddrsPerBlock)
	n := uint64(ondisk.NidsPerBlock)
	bounds := slotBounds()

	var slot int
	for slot = 0; slot < ondisk.NidSlotsInInode; slot++ {
		if remaining < bounds[slot] {
			break
		}
	}
	if slot == ondisk.NidSlotsInInode {
		return nil, ferrors.New(ferrors.InvalidArgs, "nat.NodeManager.GetDnodeOfData", "block index exceeds maximum file size")
	}

	start := uint64(0)
	if slot > 0 {
		start = bounds[slot-1]
	}
	within := remaining - start
	level := levelForSlot(slot)

	rootNid, rootAddr, err := m.rootNid(ctx, ino, inode, slot, level > 1, alloc)
	if err != nil {
		return nil, err
	}

	nodeAddrs := []uint32{rootAddr}
	nodeNids := []uint32{rootNid}
	ofsInNode := int(within)

	switch level {
	case 2:
		idx := int(within / d)
		ofsInNode = int(within % d)
		childNid, childAddr, err := m.childNid(ctx, ino, rootAddr, idx, false, alloc)
		if err != nil {
			return nil, err
		}
		nodeAddrs = append(nodeAddrs, childAddr)
		nodeNids = append(nodeNids, childNid)
	case 3:
		idx1 := int(within / (n * d))
		rem := within % (n * d)
		idx2 := int(rem / d)
		ofsInNode = int(rem % d)

		midNid, midAddr, err := m.childNid(ctx, ino, rootAddr, idx1, true, alloc)
		if err != nil {
			return nil, err
		}
		nodeAddrs = append(nodeAddrs, midAddr)
		nodeNids = append(nodeNids, midNid)

		directNid, directAddr, err := m.childNid(ctx, ino, midAddr, idx2, false, alloc)
		if err != nil {
			return nil, err
		}
		nodeAddrs = append(nodeAddrs, directAddr)
		nodeNids = append(nodeNids, directNid)
	}

	return &DnodePath{NodeAddrs: nodeAddrs, NodeNids: nodeNids, OfsInNode: ofsInNode}, nil
}

// rootNid resolves (allocating if missing and alloc is true) inode.Nids[slot],
// whose own block is an indirect node if rootIsIndirect, else a direct node.
func (m *NodeManager) rootNid(ctx context.Context, ino uint32, inode *ondisk.InodePayload, slot int, rootIsIndirect bool, alloc bool) (nid uint32, addr uint32, err error) {
	nid = inode.Nids[slot]
	if nid != ondisk.NullAddr {
		entry, err := m.nat.Lookup(ctx, nid)
		if err != nil {
			return 0, 0, err
		}
		return nid, entry.BlockAddr, nil
	}
	if !alloc {
		return 0, 0, ferrors.New(ferrors.NotFound, "nat.NodeManager.GetDnodeOfData", "hole in indirect range")
	}

	newNid, newAddr, err := m.allocNodeBlock(ctx, ino, rootIsIndirect)
	if err != nil {
		return 0, 0, err
	}
	inode.Nids[slot] = newNid
	return newNid, newAddr, nil
}

// childNid resolves (allocating if missing and alloc is true) child slot
// childIndex of the indirect node block at parentAddr, whose children are
// themselves indirect nodes if childIsIndirect, else direct nodes.
func (m *NodeManager) childNid(ctx context.Context, ino uint32, parentAddr uint32, childIndex int, childIsIndirect bool, alloc bool) (nid uint32, addr uint32, err error) {
	raw, err := m.dev.ReadBlock(ctx, parentAddr)
	if err != nil {
		return 0, 0, err
	}
	payload := ondisk.UnmarshalIndirectNodePayload(raw)
	nid = payload.Nids[childIndex]
	if nid != ondisk.NullAddr {
		entry, err := m.nat.Lookup(ctx, nid)
		if err != nil {
			return 0, 0, err
		}
		return nid, entry.BlockAddr, nil
	}

	if !alloc {
		return 0, 0, ferrors.New(ferrors.NotFound, "nat.NodeManager.GetDnodeOfData", "hole in indirect range")
	}

	newNid, newAddr, err := m.allocNodeBlock(ctx, ino, childIsIndirect)
	if err != nil {
		return 0, 0, err
	}

	footer := ondisk.NodeBlockFooter(raw)
	payload.Nids[childIndex] = newNid
	block := payload.Marshal()
	ondisk.SetNodeBlockFooter(block, footer)
	if err := m.dev.WriteBlock(ctx, parentAddr, block); err != nil {
		return 0, 0, err
	}

	return newNid, newAddr, nil
}

// allocNodeBlock allocates a fresh nid and physical block for either an
// indirect or direct node, registers it in the NAT and writes its
// zero-valued payload.
func (m *NodeManager) allocNodeBlock(ctx context.Context, ino uint32, indirect bool) (nid uint32, addr uint32, err error) {
	nid, err = m.nids.Alloc()
	if err != nil {
		return 0, 0, err
	}
	addr, err = m.alloc.AllocNodeBlock(ctx)
	if err != nil {
		return 0, 0, err
	}

	var block []byte
	if indirect {
		block = (&ondisk.IndirectNodePayload{}).Marshal()
	} else {
		block = (&ondisk.DirectNodePayload{}).Marshal()
	}
	ondisk.SetNodeBlockFooter(block, ondisk.NodeFooter{Nid: nid, Ino: ino})
	if err := m.dev.WriteBlock(ctx, addr, block); err != nil {
		return 0, 0, err
	}
	m.nat.Set(nid, ondisk.NatEntry{BlockAddr: addr})
	return nid, addr, nil
}

// TruncateInodeBlocks frees every direct/indirect node and data block
// referenced at or beyond fromBlockIndex, used by truncate and unlink. It
// walks the same nid tree GetDnodeOfData does, preserving every entry
// before fromBlockIndex at every tree level (spec §4.3's partial-node
// truncation rule) and invalidating the SIT state of every freed data and
// node block, not just its NAT/free-nid bookkeeping (invariants I2/I4).
func (m *NodeManager) TruncateInodeBlocks(ctx context.Context, inode *ondisk.InodePayload, fromBlockIndex uint64) error {
	if fromBlockIndex < uint64(directIndexLevel0Cap) {
		for i := int(fromBlockIndex); i < len(inode.Addrs); i++ {
			if inode.Addrs[i] != ondisk.NullAddr {
				m.alloc.InvalidateBlock(inode.Addrs[i])
				inode.Addrs[i] = ondisk.NullAddr
			}
		}
	}

	var fromRemaining uint64
	if fromBlockIndex > uint64(directIndexLevel0Cap) {
		fromRemaining = fromBlockIndex - uint64(directIndexLevel0Cap)
	}
	bounds := slotBounds()

	for slot := 0; slot < ondisk.NidSlotsInInode; slot++ {
		nid := inode.Nids[slot]
		if nid == ondisk.NullAddr {
			continue
		}

		start := uint64(0)
		if slot > 0 {
			start = bounds[slot-1]
		}
		end := bounds[slot]

		switch {
		case fromRemaining <= start:
			if err := m.freeSubtree(ctx, nid, levelForSlot(slot)); err != nil {
				return err
			}
			inode.Nids[slot] = ondisk.NullAddr
		case fromRemaining < end:
			if err := m.truncatePartial(ctx, nid, levelForSlot(slot), fromRemaining-start); err != nil {
				return err
			}
		}
	}
	return nil
}

// freeSubtree frees every data block referenced transitively under nid (a
// node at the given level: 1 = direct node, 2 = indirect node of
// direct-node children, 3 = indirect node of indirect-node children), then
// frees nid's own block and nat entry.
func (m *NodeManager) freeSubtree(ctx context.Context, nid uint32, level int) error {
	entry, err := m.nat.Lookup(ctx, nid)
	if err != nil {
		return err
	}
	addr := entry.BlockAddr

	raw, err := m.dev.ReadBlock(ctx, addr)
	if err != nil {
		return err
	}

	if level == 1 {
		direct := ondisk.UnmarshalDirectNodePayload(raw)
		for _, a := range direct.Addrs {
			if a != ondisk.NullAddr {
				m.alloc.InvalidateBlock(a)
			}
		}
	} else {
		indirect := ondisk.UnmarshalIndirectNodePayload(raw)
		for _, childNid := range indirect.Nids {
			if childNid == ondisk.NullAddr {
				continue
			}
			if err := m.freeSubtree(ctx, childNid, level-1); err != nil {
				return err
			}
		}
	}

	m.alloc.InvalidateBlock(addr)
	m.nat.Set(nid, ondisk.NatEntry{Version: entry.Version + 1, BlockAddr: ondisk.NullAddr})
	m.nids.Free(nid)
	return nil
}

// truncatePartial frees every data/node block at or beyond localFrom within
// the subtree rooted at nid (capacity AddrsPerBlock / NidsPerBlock*AddrsPerBlock
// for level 1/2, and so on for level 3), leaving nid's own block and its
// surviving prefix of children intact.
func (m *NodeManager) truncatePartial(ctx context.Context, nid uint32, level int, localFrom uint64) error {
	entry, err := m.nat.Lookup(ctx, nid)
	if err != nil {
		return err
	}
	addr := entry.BlockAddr

	raw, err := m.dev.ReadBlock(ctx, addr)
	if err != nil {
		return err
	}
	footer := ondisk.NodeBlockFooter(raw)

	if level == 1 {
		direct := ondisk.UnmarshalDirectNodePayload(raw)
		changed := false
		for i := int(localFrom); i < len(direct.Addrs); i++ {
			if direct.Addrs[i] != ondisk.NullAddr {
				m.alloc.InvalidateBlock(direct.Addrs[i])
				direct.Addrs[i] = ondisk.NullAddr
				changed = true
			}
		}
		if changed {
			block := direct.Marshal()
			ondisk.SetNodeBlockFooter(block, footer)
			if err := m.dev.WriteBlock(ctx, addr, block); err != nil {
				return err
			}
		}
		return nil
	}

	d := uint64(ondisk.AddrsPerBlock)
	n := uint64(ondisk.NidsPerBlock)
	childCap := d
	if level == 3 {
		childCap = n * d
	}

	indirect := ondisk.UnmarshalIndirectNodePayload(raw)
	childIndex := int(localFrom / childCap)
	childLocalFrom := localFrom % childCap
	changed := false

	if childIndex < len(indirect.Nids) && indirect.Nids[childIndex] != ondisk.NullAddr {
		if childLocalFrom == 0 {
			if err := m.freeSubtree(ctx, indirect.Nids[childIndex], level-1); err != nil {
				return err
			}
			indirect.Nids[childIndex] = ondisk.NullAddr
			changed = true
		} else if err := m.truncatePartial(ctx, indirect.Nids[childIndex], level-1, childLocalFrom); err != nil {
			return err
		}
	}

	for i := childIndex + 1; i < len(indirect.Nids); i++ {
		if indirect.Nids[i] == ondisk.NullAddr {
			continue
		}
		if err := m.freeSubtree(ctx, indirect.Nids[i], level-1); err != nil {
			return err
		}
		indirect.Nids[i] = ondisk.NullAddr
		changed = true
	}

	if changed {
		block := indirect.Marshal()
		ondisk.SetNodeBlockFooter(block, footer)
		if err := m.dev.WriteBlock(ctx, addr, block); err != nil {
			return err
		}
	}
	return nil
}
