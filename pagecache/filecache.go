package pagecache

import "sync"

// FileCache holds the cached pages belonging to one vnode (ino), keyed by
// block index within the file.
type FileCache struct {
	ino       uint32
	blockSize int

	mu    sync.RWMutex
	pages map[uint64]*Page
}

// NewFileCache returns an empty per-owner cache.
func NewFileCache(ino uint32, blockSize int) *FileCache {
	return &FileCache{ino: ino, blockSize: blockSize, pages: make(map[uint64]*Page)}
}

// GetOrCreate returns the page at index, creating and inserting a new
// not-uptodate page if absent. The caller must populate and SetUptodate a
// freshly created page itself.
func (c *FileCache) GetOrCreate(index uint64) (page *Page, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[index]; ok {
		return p, false
	}
	p := NewPage(c.ino, index, c.blockSize)
	c.pages[index] = p
	return p, true
}

// Lookup returns the page at index if cached.
func (c *FileCache) Lookup(index uint64) (*Page, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[index]
	return p, ok
}

// Evict removes the page at index if it is clean and unpinned, returning
// whether it was removed.
func (c *FileCache) Evict(index uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[index]
	if !ok {
		return false
	}
	if p.IsDirty() || p.IsWriteback() || p.Refcount() > 0 || p.IsMmapped() {
		return false
	}
	delete(c.pages, index)
	return true
}

// Truncate drops every page at or beyond newBlockCount, used when a file
// shrinks.
func (c *FileCache) Truncate(newBlockCount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx := range c.pages {
		if idx >= newBlockCount {
			delete(c.pages, idx)
		}
	}
}

// DirtyPages returns every currently-dirty page, snapshotted under the
// read lock; callers use this to build a writeback batch.
func (c *FileCache) DirtyPages() []*Page {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Page
	for _, p := range c.pages {
		if p.IsDirty() {
			out = append(out, p)
		}
	}
	return out
}

// Len reports the number of cached pages.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}
