// Package pagecache implements the in-memory block cache every vnode reads
// and writes through before a block reaches the block device: per-owner
// pages keyed by block index, a dirty list driving writeback, and a
// reference count gating eviction and reclaim.
package pagecache

import (
	"sync"
	"sync/atomic"
)

// Flag bits tracked on a Page, matching the state machine in spec §4.7:
// a page moves Uptodate -> Dirty on write, Dirty -> Writeback when flushed,
// and Writeback -> clean on completion.
const (
	FlagUptodate uint32 = 1 << iota
	FlagDirty
	FlagWriteback
	FlagLocked
	FlagMmapped
)

// Page is one BlockSize-sized cached block, identified by (owner ino,
// block index). Flags are stored atomically so readers don't need the
// owning FileCache's lock merely to check Uptodate/Dirty.
type Page struct {
	Ino   uint32
	Index uint64

	flags atomic.Uint32
	refs  atomic.Int32

	mu   sync.Mutex
	data []byte
}

// NewPage returns a zeroed, not-yet-uptodate page for (ino, index).
func NewPage(ino uint32, index uint64, blockSize int) *Page {
	return &Page{Ino: ino, Index: index, data: make([]byte, blockSize)}
}

// Data returns the page's backing buffer. Callers must hold Lock (see
// Lock/Unlock) while mutating it.
func (p *Page) Data() []byte { return p.data }

// Lock serializes concurrent readers/writers of one page's content, the
// flash-friendly equivalent of locking a struct page before copy_to_user.
func (p *Page) Lock()   { p.mu.Lock(); p.setFlag(FlagLocked) }
func (p *Page) Unlock() { p.clearFlag(FlagLocked); p.mu.Unlock() }

func (p *Page) setFlag(f uint32)   { p.flags.Or(f) }
func (p *Page) clearFlag(f uint32) { p.flags.And(^f) }
func (p *Page) hasFlag(f uint32) bool {
	return p.flags.Load()&f != 0
}

func (p *Page) IsUptodate() bool  { return p.hasFlag(FlagUptodate) }
func (p *Page) IsDirty() bool     { return p.hasFlag(FlagDirty) }
func (p *Page) IsWriteback() bool { return p.hasFlag(FlagWriteback) }
func (p *Page) IsMmapped() bool   { return p.hasFlag(FlagMmapped) }

func (p *Page) SetUptodate()   { p.setFlag(FlagUptodate) }
func (p *Page) SetMmapped()    { p.setFlag(FlagMmapped) }
func (p *Page) ClearMmapped()  { p.clearFlag(FlagMmapped) }

// MarkDirty sets the Dirty flag, returning true if it transitioned from
// clean so the caller can add it to a dirty list exactly once.
func (p *Page) MarkDirty() bool {
	for {
		old := p.flags.Load()
		if old&FlagDirty != 0 {
			return false
		}
		if p.flags.CompareAndSwap(old, old|FlagDirty) {
			return true
		}
	}
}

// StartWriteback clears Dirty and sets Writeback atomically, the point at
// which the page's content is handed to the block device.
func (p *Page) StartWriteback() {
	for {
		old := p.flags.Load()
		next := (old &^ FlagDirty) | FlagWriteback
		if p.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// EndWriteback clears Writeback once the device write completes.
func (p *Page) EndWriteback() { p.clearFlag(FlagWriteback) }

// IncRef/DecRef track pin count; a page with refs > 0 cannot be evicted.
func (p *Page) IncRef() int32 { return p.refs.Add(1) }
func (p *Page) DecRef() int32 {
	n := p.refs.Add(-1)
	if n < 0 {
		panic("pagecache: Page refcount went negative")
	}
	return n
}
func (p *Page) Refcount() int32 { return p.refs.Load() }
