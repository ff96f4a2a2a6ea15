package common

import "hash/crc32"

// crc32cTable is the Castagnoli polynomial table used for every on-disk CRC
// in the filesystem (checkpoint block, superblock).
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the Castagnoli CRC32 of data, matching the on-disk
// checksum algorithm used by the checkpoint block and superblock.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// CeilDiv returns ceil(a/b) for positive integers, used pervasively for
// dentry-slot counts (ceil(namelen/8)) and NAT/SIT block counts
// (ceil(max_nid/NAT_ENTRY_PER_BLOCK)).
func CeilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// AlignUp rounds v up to the next multiple of align (align must be a power
// of two).
func AlignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Min returns the smaller of a and b.
func Min[T ~int | ~int64 | ~uint32 | ~uint64](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T ~int | ~int64 | ~uint32 | ~uint64](a, b T) T {
	if a > b {
		return a
	}
	return b
}
