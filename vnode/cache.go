package vnode

import (
	"sync"

	"github.com/flashfriendly/f2fs/ondisk"
)

// LoadFunc reads and decodes ino's inode block from the device.
type LoadFunc func(ino uint32) (*ondisk.InodePayload, error)

// DestroyFunc is invoked once a vnode's lookup count reaches zero; it
// frees the vnode's nid tree and data blocks if the inode has no
// remaining links (an unlinked-but-open file), or is a no-op otherwise.
type DestroyFunc func(ino uint32) error

// Cache maps ino -> *Vnode, keeping exactly one live Vnode per ino so that
// every in-flight handle on a file observes the same dirty/extent state.
//
// A lookup racing an eviction (the cached entry's lookup count hits zero
// and destroy fires concurrently) cannot observe a half-evicted entry:
// LookupOrCreate holds the cache lock across the entire find-or-load-and-
// increment sequence, and destroy (invoked from DecLookup once the count
// hits zero) takes the same lock before deleting the map entry. The two
// therefore never interleave.
type Cache struct {
	load    LoadFunc
	destroy DestroyFunc

	mu      sync.Mutex
	vnodes  map[uint32]*Vnode
}

// NewCache returns an empty vnode cache.
func NewCache(load LoadFunc, destroy DestroyFunc) *Cache {
	return &Cache{load: load, destroy: destroy, vnodes: make(map[uint32]*Vnode)}
}

// LookupOrCreate returns the Vnode for ino, incrementing its lookup count
// by one, loading and caching it on a miss. The increment happens while
// still holding the cache lock that Forget's destroy callback also takes
// to remove a zeroed-out entry from the map, so a lookup can never observe
// an entry mid-eviction: either the entry is still in the map (and the
// increment keeps it alive) or it has already been fully removed (and this
// call reloads it fresh).
func (c *Cache) LookupOrCreate(ino uint32) (*Vnode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.vnodes[ino]; ok {
		v.IncLookup(1)
		return v, nil
	}

	inode, err := c.load(ino)
	if err != nil {
		return nil, err
	}
	v := New(ino, inode, func() error {
		c.mu.Lock()
		delete(c.vnodes, ino)
		c.mu.Unlock()
		if c.destroy != nil {
			return c.destroy(ino)
		}
		return nil
	})
	v.IncLookup(1)
	c.vnodes[ino] = v
	return v, nil
}

// InsertNew registers a freshly-minted inode (one with no on-disk NAT
// entry read to produce it, unlike LookupOrCreate's load path) as the
// cache's entry for ino, with an initial lookup count of one. Callers use
// this right after allocating a new nid and node block for mknod/mkdir/
// create, rather than writing the inode to disk first just so
// LookupOrCreate's load path can read it back.
func (c *Cache) InsertNew(ino uint32, inode *ondisk.InodePayload) *Vnode {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := New(ino, inode, func() error {
		c.mu.Lock()
		delete(c.vnodes, ino)
		c.mu.Unlock()
		if c.destroy != nil {
			return c.destroy(ino)
		}
		return nil
	})
	v.IncLookup(1)
	c.vnodes[ino] = v
	return v
}

func (c *Cache) peek(ino uint32) (*Vnode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vnodes[ino]
	return v, ok
}

// Forget decrements ino's lookup count by n, destroying and evicting it if
// the count reaches zero.
func (c *Cache) Forget(ino uint32, n uint64) error {
	v, ok := c.peek(ino)
	if !ok {
		return nil
	}
	_, err := v.DecLookup(n)
	return err
}

// Len reports the number of currently cached vnodes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vnodes)
}
