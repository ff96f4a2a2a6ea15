// Package bcache provides the block device abstraction and the bounded,
// scratch-buffer-backed I/O path every higher layer (pagecache, nat,
// segment, checkpoint) reads and writes blocks through.
package bcache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// BlockDevice is the narrow interface the filesystem core depends on: fixed
// block-size random access plus a durability barrier. A FileBlockDevice
// backs it with a regular file or block special file; tests back it with
// an in-memory fake.
type BlockDevice interface {
	ReadBlock(addr uint32) ([]byte, error)
	WriteBlock(addr uint32, data []byte) error
	Flush() error
	BlockCount() uint32
	Close() error
}

// FileBlockDevice implements BlockDevice over an *os.File, matching a
// regular file or a Linux block special file interchangeably.
type FileBlockDevice struct {
	f          *os.File
	blockCount uint32
}

// OpenFileBlockDevice opens path for read/write block access. If path names
// a block special file, its size is queried via BLKGETSIZE64; otherwise the
// regular file's size is used directly.
func OpenFileBlockDevice(path string) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IoError, "bcache.Open", "opening backing file", err)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileBlockDevice{
		f:          f,
		blockCount: uint32(size / ondisk.BlockSize),
	}, nil
}

func deviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IoError, "bcache.deviceSize", "stat", err)
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IoError, "bcache.deviceSize", "BLKGETSIZE64", err)
	}
	return int64(size), nil
}

// ReadBlock reads exactly one BlockSize-byte block at addr.
func (d *FileBlockDevice) ReadBlock(addr uint32) ([]byte, error) {
	if addr >= d.blockCount {
		return nil, ferrors.New(ferrors.OutOfRange, "bcache.ReadBlock", fmt.Sprintf("block %d beyond device (%d blocks)", addr, d.blockCount))
	}
	buf := make([]byte, ondisk.BlockSize)
	if _, err := d.f.ReadAt(buf, int64(addr)*ondisk.BlockSize); err != nil {
		return nil, ferrors.Wrap(ferrors.IoError, "bcache.ReadBlock", "pread", err)
	}
	return buf, nil
}

// WriteBlock writes exactly one BlockSize-byte block at addr.
func (d *FileBlockDevice) WriteBlock(addr uint32, data []byte) error {
	if addr >= d.blockCount {
		return ferrors.New(ferrors.OutOfRange, "bcache.WriteBlock", fmt.Sprintf("block %d beyond device (%d blocks)", addr, d.blockCount))
	}
	if len(data) != ondisk.BlockSize {
		return ferrors.New(ferrors.InvalidArgs, "bcache.WriteBlock", "data must be exactly one block")
	}
	if _, err := d.f.WriteAt(data, int64(addr)*ondisk.BlockSize); err != nil {
		return ferrors.Wrap(ferrors.IoError, "bcache.WriteBlock", "pwrite", err)
	}
	return nil
}

// Flush issues fsync, the durability barrier every checkpoint commit relies
// on between writing the new CP pack's body and flipping its version so it
// becomes the active pack.
func (d *FileBlockDevice) Flush() error {
	if err := d.f.Sync(); err != nil {
		return ferrors.Wrap(ferrors.IoError, "bcache.Flush", "fsync", err)
	}
	return nil
}

// BlockCount returns the device size in blocks.
func (d *FileBlockDevice) BlockCount() uint32 { return d.blockCount }

// Close closes the backing file.
func (d *FileBlockDevice) Close() error { return d.f.Close() }
