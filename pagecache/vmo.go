package pagecache

import (
	"sync"

	"github.com/flashfriendly/f2fs/ferrors"
)

// PagesPerVmo is the number of pages grouped into one simulated VMO
// (virtual memory object), mirroring the host kernel's practice of backing
// a file's page cache with VMOs committed in bulk rather than one page at
// a time.
const PagesPerVmo = 64

// vmo is one committed group of PagesPerVmo page slots.
type vmo struct {
	pages [PagesPerVmo]*Page
	used  int
}

// VmoManager groups a vnode's pages into fixed-size VMOs, committing and
// decommitting memory PagesPerVmo pages at a time instead of per page, the
// way a real mmap-backed cache amortizes the kernel's page-commit cost.
type VmoManager struct {
	blockSize int

	mu   sync.Mutex
	vmos map[uint64]*vmo // keyed by vmo group index = page index / PagesPerVmo

	committed int
	capacity  int
}

// NewVmoManager returns a VmoManager bounded to capacity total pages
// (rounded down to whole VMOs: a VMO that would take the total past
// capacity is refused); a capacity of 0 means unbounded.
func NewVmoManager(blockSize int, capacity int) *VmoManager {
	return &VmoManager{
		blockSize: blockSize,
		vmos:      make(map[uint64]*vmo),
		capacity:  capacity,
	}
}

// Acquire returns the page for the given page index within a vnode,
// committing a new VMO group if needed. It fails with NoSpace if doing so
// would exceed the manager's capacity.
func (m *VmoManager) Acquire(ino uint32, index uint64) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	groupIdx := index / PagesPerVmo
	slot := int(index % PagesPerVmo)

	g, ok := m.vmos[groupIdx]
	if !ok {
		if m.committed+PagesPerVmo > m.capacity && m.capacity > 0 {
			return nil, ferrors.New(ferrors.NoSpace, "pagecache.VmoManager.Acquire", "VMO capacity exhausted")
		}
		g = &vmo{}
		m.vmos[groupIdx] = g
		m.committed += PagesPerVmo
	}

	if g.pages[slot] == nil {
		g.pages[slot] = NewPage(ino, index, m.blockSize)
		g.used++
	}
	return g.pages[slot], nil
}

// Release drops a page from its VMO group, decommitting the whole group
// once every slot in it is empty.
func (m *VmoManager) Release(index uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	groupIdx := index / PagesPerVmo
	slot := int(index % PagesPerVmo)

	g, ok := m.vmos[groupIdx]
	if !ok || g.pages[slot] == nil {
		return
	}
	g.pages[slot] = nil
	g.used--
	if g.used == 0 {
		delete(m.vmos, groupIdx)
		m.committed -= PagesPerVmo
	}
}

// Stats reports current VMO commitment, for metrics.
type Stats struct {
	CommittedPages int
	CapacityPages  int
	GroupCount     int
}

// Stats returns a snapshot of current usage.
func (m *VmoManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		CommittedPages: m.committed,
		CapacityPages:  m.capacity,
		GroupCount:     len(m.vmos),
	}
}
