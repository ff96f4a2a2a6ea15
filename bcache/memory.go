package bcache

import (
	"sync"

	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// MemoryBlockDevice is an in-memory BlockDevice, used by mkfs on a
// not-yet-formatted image and by tests that want deterministic, fast I/O
// without a backing file.
type MemoryBlockDevice struct {
	mu     sync.Mutex
	blocks [][]byte
}

// NewMemoryBlockDevice returns a zero-filled device of the given block
// count.
func NewMemoryBlockDevice(blockCount uint32) *MemoryBlockDevice {
	blocks := make([][]byte, blockCount)
	for i := range blocks {
		blocks[i] = make([]byte, ondisk.BlockSize)
	}
	return &MemoryBlockDevice{blocks: blocks}
}

func (d *MemoryBlockDevice) ReadBlock(addr uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(addr) >= len(d.blocks) {
		return nil, ferrors.New(ferrors.OutOfRange, "bcache.MemoryBlockDevice.ReadBlock", "block beyond device")
	}
	out := make([]byte, ondisk.BlockSize)
	copy(out, d.blocks[addr])
	return out, nil
}

func (d *MemoryBlockDevice) WriteBlock(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(addr) >= len(d.blocks) {
		return ferrors.New(ferrors.OutOfRange, "bcache.MemoryBlockDevice.WriteBlock", "block beyond device")
	}
	if len(data) != ondisk.BlockSize {
		return ferrors.New(ferrors.InvalidArgs, "bcache.MemoryBlockDevice.WriteBlock", "data must be exactly one block")
	}
	copy(d.blocks[addr], data)
	return nil
}

func (d *MemoryBlockDevice) Flush() error { return nil }

func (d *MemoryBlockDevice) BlockCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.blocks))
}

func (d *MemoryBlockDevice) Close() error { return nil }
