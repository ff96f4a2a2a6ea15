// Package vnode implements the in-memory inode object (Vnode), its
// lookup-count-gated lifecycle and the per-file extent cache, per spec
// §4.6/§4.8.
package vnode

import "sync"

// lookupCount tracks how many outstanding directory-entry lookups (FUSE
// kernel references) point at an object, the way the teacher's inode
// cache only destroys a backing object once every issued lookup has been
// balanced by a matching forget.
type lookupCount struct {
	mu      sync.Mutex
	count   uint64
	destroy func() error
}

func newLookupCount(destroy func() error) *lookupCount {
	return &lookupCount{destroy: destroy}
}

// Inc increments the lookup count by n, called once per successful
// lookup/create/link reply to the kernel.
func (l *lookupCount) Inc(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count += n
}

// Dec decrements the lookup count by n (a kernel forget notification) and,
// if it reaches zero, invokes destroy exactly once. It returns whether the
// object was destroyed.
func (l *lookupCount) Dec(n uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.count {
		n = l.count
	}
	l.count -= n
	if l.count > 0 {
		return false, nil
	}
	if l.destroy == nil {
		return true, nil
	}
	err := l.destroy()
	l.destroy = nil
	return true, err
}

// Count returns the current lookup count, for diagnostics/fsck.
func (l *lookupCount) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
