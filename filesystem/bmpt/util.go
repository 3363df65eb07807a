package bmpt

import (
	"fmt"
)

const (
	// KB represents one KB
	KB int64 = 1024
	// MB represents one MB
	MB int64 = 1024 * KB
	// GB represents one GB
	GB int64 = 1024 * MB

	// BmptMinSize is the minimum size for a bmpt filesystem:
	// a single block group with boot block, superblock, group descriptor
	// table, two bitmaps, a three-block inode table (the reserved inodes
	// plus one block of usable ones, at 1024-byte blocks) and one data block
	BmptMinSize int64 = 9 * 1024
)

// fanout is the number of records per indirection block
func (fs *FileSystem) fanout() uint32 {
	return fs.superblock.blockSize >> uint(recordSizeBits)
}

// minNumLevels is the minimum tree height that can address the given
// logical block: the smallest k with block < fanout^k, and 0 for block 0
func minNumLevels(block, fanout uint32) int {
	levels := 0
	for block != 0 {
		levels++
		block /= fanout
	}
	return levels
}

// recOffset is the index within a level's indirection block for a logical
// block: (block / fanout^level) mod fanout
func recOffset(block uint32, level int, fanout uint32) int {
	for i := 0; i < level; i++ {
		block /= fanout
	}
	return int(block % fanout)
}

// blocksCovered is the count of logical blocks covered by one record at
// the given level: fanout^level
func blocksCovered(fanout uint32, level int) uint64 {
	covered := uint64(1)
	for i := 0; i < level; i++ {
		covered *= uint64(fanout)
	}
	return covered
}

// checkZeroBlock reports whether buf is all zeros
func checkZeroBlock(buf []byte) bool {
	for _, c := range buf {
		if c != 0 {
			return false
		}
	}
	return true
}

// convert a string to a byte array, if all characters are valid ascii
func stringToASCIIBytes(s string) ([]byte, error) {
	length := len(s)
	b := make([]byte, length)
	r := []rune(s)
	for i := 0; i < length; i++ {
		val := int(r[i])
		// only 7-bit ASCII characters are accepted
		if val > 127 {
			return nil, fmt.Errorf("non-ASCII character in name: %s", s)
		}
		b[i] = byte(val)
	}
	return b, nil
}
