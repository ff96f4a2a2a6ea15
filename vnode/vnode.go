package vnode

import (
	"sync"

	"github.com/flashfriendly/f2fs/ondisk"
)

// Vnode is the in-memory representation of one inode: its decoded inode
// block, its lookup-count lifecycle, an extent-cache hint and a dirty
// flag driving whether its inode block needs writing back at the next
// checkpoint.
type Vnode struct {
	Ino uint32

	mu     sync.RWMutex
	inode  *ondisk.InodePayload
	dirty  bool
	extent ExtentInfo

	lookup *lookupCount
}

// New wraps a decoded inode block as a Vnode, with destroy invoked once the
// lookup count drops to zero and Unlink (if any) has already removed the
// last link.
func New(ino uint32, inode *ondisk.InodePayload, destroy func() error) *Vnode {
	return &Vnode{
		Ino:    ino,
		inode:  inode,
		lookup: newLookupCount(destroy),
	}
}

// Inode returns the current decoded inode block. Callers needing to
// mutate it should use Update.
func (v *Vnode) Inode() *ondisk.InodePayload {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.inode
}

// Update applies fn to the inode under the vnode's write lock and marks
// the vnode dirty.
func (v *Vnode) Update(fn func(*ondisk.InodePayload)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.inode)
	v.dirty = true
}

// IsDirty reports whether the inode block has been modified since the
// last writeback.
func (v *Vnode) IsDirty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dirty
}

// ClearDirty marks the inode clean after its block has been durably
// written.
func (v *Vnode) ClearDirty() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dirty = false
}

// IncLookup/DecLookup forward to the embedded lookupCount.
func (v *Vnode) IncLookup(n uint64)            { v.lookup.Inc(n) }
func (v *Vnode) DecLookup(n uint64) (bool, error) { return v.lookup.Dec(n) }
func (v *Vnode) LookupCount() uint64           { return v.lookup.Count() }

// Extent returns the vnode's current extent cache hint.
func (v *Vnode) Extent() ExtentInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.extent
}

// SetExtent replaces the extent cache hint.
func (v *Vnode) SetExtent(e ExtentInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.extent = e
}
