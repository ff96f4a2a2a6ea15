package directory

import (
	"context"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// BlockAddrFunc resolves a directory's logical dentry-block index to its
// physical block address, allocating one on demand when grow is true (the
// file package's dnode-path resolution, reused here rather than
// duplicated).
type BlockAddrFunc func(ctx context.Context, dirIno uint32, logicalBlock uint64, grow bool) (addr uint32, err error)

// Entry is one resolved directory entry.
type Entry struct {
	Name string
	Ino  uint32
	Type uint8
}

// FindEntry searches dirIno's hashed bucket tree for name, probing at each
// populated level only the one bucket name hashes to, and returns
// ferrors.NotFound if absent.
// maxLevel bounds the search to levels known to have been populated
// (tracked by the caller's inode metadata, mirroring the real
// implementation's i_current_depth).
func FindEntry(ctx context.Context, dev *bcache.Bcache, resolve BlockAddrFunc, dirIno uint32, dirLevel int, maxLevel int, name string) (Entry, error) {
	hash := Hash(name)

	for level := 0; level <= maxLevel; level++ {
		bucket := BucketIndex(hash, level, dirLevel)
		logicalBlock := uint64(bucketStartBlock(level, dirLevel)) + uint64(bucket)

		addr, err := resolve(ctx, dirIno, logicalBlock, false)
		if err != nil {
			if ferrors.Is(err, ferrors.NotFound) {
				continue
			}
			return Entry{}, err
		}

		raw, err := dev.ReadBlock(ctx, addr)
		if err != nil {
			return Entry{}, err
		}
		block := ondisk.UnmarshalDentryBlock(raw)

		if e, ok := findInBlock(block, hash, name); ok {
			return e, nil
		}
	}

	return Entry{}, ferrors.New(ferrors.NotFound, "directory.FindEntry", "no such entry: "+name)
}

// bucketStartBlock returns the first logical block of the given hash-tree
// level, the cumulative bucket count of every shallower level.
func bucketStartBlock(level int, dirLevel int) int {
	total := 0
	for l := 0; l < level; l++ {
		total += BucketCount(l, dirLevel)
	}
	return total
}

func findInBlock(block *ondisk.DentryBlock, hash uint32, name string) (Entry, bool) {
	for i := 0; i < ondisk.NrDentryInBlock; i++ {
		if block.IsSlotFree(i) {
			continue
		}
		d := block.Dentries[i]
		if d.Hash != hash {
			continue
		}
		if block.Name(i) == name {
			return Entry{Name: name, Ino: d.Ino, Type: d.Type}, true
		}
	}
	return Entry{}, false
}

// AddLink inserts (name, ino, fileType) into dirIno's bucket tree,
// growing to the next hash-tree level if the bucket name hashes to at the
// current level has no free run of slots for it, per spec §4.6.
func AddLink(ctx context.Context, dev *bcache.Bcache, resolve BlockAddrFunc, dirIno uint32, dirLevel int, maxLevel int, name string, ino uint32, fileType uint8) error {
	hash := Hash(name)
	nameSlots := ondisk.SlotsForName(len(name))

	for level := 0; level <= maxLevel+1 && level < ondisk.MaxDirHashDepth; level++ {
		bucket := BucketIndex(hash, level, dirLevel)
		logicalBlock := uint64(bucketStartBlock(level, dirLevel)) + uint64(bucket)

		addr, err := resolve(ctx, dirIno, logicalBlock, true)
		if err != nil {
			return err
		}

		raw, err := dev.ReadBlock(ctx, addr)
		if err != nil {
			return err
		}
		block := ondisk.UnmarshalDentryBlock(raw)

		if slot, ok := findFreeRun(block, nameSlots); ok {
			block.Dentries[slot] = ondisk.Dentry{Hash: hash, Ino: ino, Type: fileType}
			block.PutName(slot, name)
			for s := 0; s < nameSlots; s++ {
				block.SetSlot(slot+s, true)
			}
			return dev.WriteBlock(ctx, addr, block.Marshal())
		}
	}

	return ferrors.New(ferrors.OutOfRange, "directory.AddLink", "hashed bucket tree exhausted at max depth")
}

func findFreeRun(block *ondisk.DentryBlock, n int) (int, bool) {
	for i := 0; i+n <= ondisk.NrDentryInBlock; i++ {
		free := true
		for s := 0; s < n; s++ {
			if !block.IsSlotFree(i + s) {
				free = false
				break
			}
		}
		if free {
			return i, true
		}
	}
	return 0, false
}

// DeleteEntry removes name from dirIno's bucket tree.
func DeleteEntry(ctx context.Context, dev *bcache.Bcache, resolve BlockAddrFunc, dirIno uint32, dirLevel int, maxLevel int, name string) error {
	hash := Hash(name)

	for level := 0; level <= maxLevel; level++ {
		bucket := BucketIndex(hash, level, dirLevel)
		logicalBlock := uint64(bucketStartBlock(level, dirLevel)) + uint64(bucket)

		addr, err := resolve(ctx, dirIno, logicalBlock, false)
		if err != nil {
			if ferrors.Is(err, ferrors.NotFound) {
				continue
			}
			return err
		}

		raw, err := dev.ReadBlock(ctx, addr)
		if err != nil {
			return err
		}
		block := ondisk.UnmarshalDentryBlock(raw)

		for i := 0; i < ondisk.NrDentryInBlock; i++ {
			if block.IsSlotFree(i) {
				continue
			}
			d := block.Dentries[i]
			if d.Hash != hash || block.Name(i) != name {
				continue
			}
			slots := ondisk.SlotsForName(int(d.NameLen))
			for s := 0; s < slots; s++ {
				block.SetSlot(i+s, false)
			}
			block.Dentries[i] = ondisk.Dentry{}
			return dev.WriteBlock(ctx, addr, block.Marshal())
		}
	}

	return ferrors.New(ferrors.NotFound, "directory.DeleteEntry", "no such entry: "+name)
}
