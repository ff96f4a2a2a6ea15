package pagecache

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WriteFunc writes one dirty page's content to its backing block address,
// supplied by the caller (the file/segment layer knows how to resolve a
// (ino, index) pair to a physical block address and perform LFS/SSR
// placement); Manager only handles the batching and concurrency bound.
type WriteFunc func(ctx context.Context, p *Page) error

// Manager owns every vnode's FileCache and drives bounded-concurrency
// writeback across all of them, the pagecache analogue of how the
// teacher's bufferedwrites package bounds outstanding upload goroutines
// with a weighted semaphore.
type Manager struct {
	blockSize int

	mu    sync.RWMutex
	files map[uint32]*FileCache

	writebackSem *semaphore.Weighted
}

// NewManager returns a Manager with the given block size and maximum
// concurrent in-flight page writes.
func NewManager(blockSize int, maxConcurrentWriteback int64) *Manager {
	if maxConcurrentWriteback <= 0 {
		maxConcurrentWriteback = 16
	}
	return &Manager{
		blockSize:    blockSize,
		files:        make(map[uint32]*FileCache),
		writebackSem: semaphore.NewWeighted(maxConcurrentWriteback),
	}
}

// ForIno returns (creating if needed) the FileCache for ino.
func (m *Manager) ForIno(ino uint32) *FileCache {
	m.mu.RLock()
	fc, ok := m.files[ino]
	m.mu.RUnlock()
	if ok {
		return fc
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fc, ok := m.files[ino]; ok {
		return fc
	}
	fc = NewFileCache(ino, m.blockSize)
	m.files[ino] = fc
	return fc
}

// DropIno removes a vnode's cache entirely, used once its lookup count
// reaches zero and it has been evicted from the vnode cache.
func (m *Manager) DropIno(ino uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, ino)
}

// Writeback flushes every dirty page across every cached file through
// write, bounding concurrency with the manager's semaphore. It returns the
// first error encountered, after waiting for all in-flight writes to
// finish so no page is left mid-flight on error.
func (m *Manager) Writeback(ctx context.Context, write WriteFunc) error {
	m.mu.RLock()
	caches := make([]*FileCache, 0, len(m.files))
	for _, fc := range m.files {
		caches = append(caches, fc)
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)

	for _, fc := range caches {
		for _, p := range fc.DirtyPages() {
			if err := m.writebackSem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				break
			}
			wg.Add(1)
			go func(p *Page) {
				defer wg.Done()
				defer m.writebackSem.Release(1)

				p.Lock()
				p.StartWriteback()
				err := write(ctx, p)
				p.EndWriteback()
				p.Unlock()

				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}(p)
		}
	}

	wg.Wait()
	return firstErr
}
