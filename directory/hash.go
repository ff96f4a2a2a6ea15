// Package directory implements the hashed directory bucket tree described
// in spec §3/§4.6: TEA-based name hashing, dentry block lookup/insert/
// delete, inline-dentry handling and rename.
package directory

import "github.com/flashfriendly/f2fs/ondisk"

// teaDelta is the Tiny Encryption Algorithm's constant multiplier,
// matching the reference filesystem's directory hash (a name hash that
// must be stable across implementations sharing an on-disk image, unlike
// Go's runtime-randomized map hash).
const teaDelta = 0x9E3779B9

// teaHash runs 16 TEA rounds over a 2-word block (k0,k1) using (k0,k1) as
// both the block and a fixed all-zero key schedule, matching the
// reference's simplified single-block name hash.
func teaHash(k0, k1 uint32) (uint32, uint32) {
	var sum uint32
	for i := 0; i < 16; i++ {
		sum += teaDelta
		k0 += (k1 << 4) + k0 ^ (sum + k1) + (k1 >> 5)
		k1 += (k0 << 4) + k1 ^ (sum + k0) + (k0 >> 5)
	}
	return k0, k1
}

// Hash computes the directory entry hash for name, padding/chunking it
// into 4-byte little-endian words and running it through teaHash two
// words at a time, folding the result into one 32-bit hash with the
// top bit cleared (reserved to distinguish case-sensitive/insensitive
// variants in the on-disk format, unused here).
func Hash(name string) uint32 {
	b := []byte(name)
	// Pad to a multiple of 8 bytes (two TEA words) with zeros.
	if rem := len(b) % 8; rem != 0 {
		b = append(b, make([]byte, 8-rem)...)
	}
	if len(b) == 0 {
		b = make([]byte, 8)
	}

	var h0, h1 uint32 = 0x67452301, 0xEFCDAB89
	for off := 0; off < len(b); off += 8 {
		k0 := le32(b[off:])
		k1 := le32(b[off+4:])
		h0, h1 = teaHash(h0^k0, h1^k1)
	}
	return (h0 ^ h1) &^ (1 << 31)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// BucketCount returns the number of dentry-block buckets at the given
// hashed-tree level, per spec §3's 2^(level+dir_level) formula, capped at
// ondisk.MaxDirHashDepth levels.
func BucketCount(level int, dirLevel int) int {
	if level+dirLevel >= ondisk.MaxDirHashDepth {
		level = ondisk.MaxDirHashDepth - dirLevel - 1
	}
	return 1 << uint(level+dirLevel)
}

// BucketIndex returns which bucket at the given level a name's hash falls
// into.
func BucketIndex(hash uint32, level int, dirLevel int) int {
	return int(hash) % BucketCount(level, dirLevel)
}
