package bmpt

import (
	"encoding/binary"
	"fmt"

	bitset "github.com/bits-and-blooms/bitset"
)

// bitmap is one block group's allocation bitmap, one bit per block or
// inode, held in memory as a bitset and persisted as raw little-endian
// bitmap bytes
type bitmap struct {
	bits *bitset.BitSet
}

// bitmapFromBytes create a bitmap from on-disk bitmap bytes
func bitmapFromBytes(b []byte) *bitmap {
	words := make([]uint64, len(b)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	return &bitmap{bits: bitset.From(words)}
}

// newBitmap create an empty bitmap covering size bits, rounded up to
// whole bytes of on-disk bitmap
func newBitmap(size uint32) *bitmap {
	return &bitmap{bits: bitset.New(uint(size))}
}

// toBytes returns the bitmap ready to be written to disk, padded to the
// given byte length
func (bm *bitmap) toBytes(length int) []byte {
	b := make([]byte, length)
	words := bm.bits.Bytes()
	for i, w := range words {
		if (i+1)*8 > length {
			break
		}
		binary.LittleEndian.PutUint64(b[i*8:i*8+8], w)
	}
	return b
}

// blocksInGroup is how many blocks the given group actually covers; only
// the last group may be short
func (fs *FileSystem) blocksInGroup(group uint32) uint32 {
	sb := fs.superblock
	base := sb.firstDataBlock + group*sb.blocksPerGroup
	if base+sb.blocksPerGroup > sb.blockCount {
		return sb.blockCount - base
	}
	return sb.blocksPerGroup
}

// allocBlock allocates one free block, preferably at or after goal,
// scanning the goal's group first and then subsequent groups with
// wrap-around. Returns ErrNoSpace when every group is full.
func (fs *FileSystem) allocBlock(goal uint32) (uint32, error) {
	sb := fs.superblock
	ngroups := sb.groupCount()
	if goal < sb.firstDataBlock || goal >= sb.blockCount {
		goal = sb.firstDataBlock
	}
	rel := goal - sb.firstDataBlock
	group := rel / sb.blocksPerGroup
	bit := uint(rel % sb.blocksPerGroup)

	for i := uint32(0); i <= ngroups; i++ {
		g := (group + i) % ngroups
		start := uint(0)
		if i == 0 {
			start = bit
		}
		bm := fs.blockBitmaps[g]
		idx, found := bm.bits.NextClear(start)
		if !found || idx >= uint(fs.blocksInGroup(g)) {
			continue
		}
		bm.bits.Set(idx)
		fs.groupDescriptors.descriptors[g].freeBlocks--
		sb.freeBlocks--
		if err := fs.writeBlockBitmap(g); err != nil {
			return 0, err
		}
		return sb.firstDataBlock + g*sb.blocksPerGroup + uint32(idx), nil
	}
	return 0, ErrNoSpace
}

// releaseBlock marks blkno free again; releasing an already-free block is
// a no-op, which the mapping engine's rollback path relies on
func (fs *FileSystem) releaseBlock(blkno uint32) error {
	sb := fs.superblock
	if blkno < sb.firstDataBlock || blkno >= sb.blockCount {
		return fmt.Errorf("block %d out of range", blkno)
	}
	rel := blkno - sb.firstDataBlock
	g := rel / sb.blocksPerGroup
	bit := uint(rel % sb.blocksPerGroup)
	bm := fs.blockBitmaps[g]
	if !bm.bits.Test(bit) {
		return nil
	}
	bm.bits.Clear(bit)
	fs.groupDescriptors.descriptors[g].freeBlocks++
	sb.freeBlocks++
	return fs.writeBlockBitmap(g)
}

// allocDupBlock allocates the duplicated copies of one data block: the
// filesystem's duplication count of mutually distinct block numbers, one
// per copy slot, each steered by the goal selector unless the caller's
// goal record already names a block for that slot. A failure releases
// every copy allocated so far.
func (fs *FileSystem) allocDupBlock(ino int64, goal *Record) (Record, error) {
	var rec Record
	dupCnt := int(fs.superblock.dupinodeDupCnt)
	for j := 0; j < dupCnt; j++ {
		g := fs.findGoal(ino, j)
		if goal != nil && goal.Blocks[j] != 0 {
			g = goal.Blocks[j]
		}
		blk, err := fs.allocBlock(g)
		if err != nil {
			for k := 0; k < j; k++ {
				_ = fs.releaseBlock(rec.Blocks[k])
			}
			return Record{}, err
		}
		rec.Blocks[j] = blk
	}
	return rec, nil
}

// allocInode allocates one free inode number, scanning groups in order
func (fs *FileSystem) allocInode() (int64, error) {
	sb := fs.superblock
	for g := uint32(0); g < sb.groupCount(); g++ {
		bm := fs.inodeBitmaps[g]
		idx, found := bm.bits.NextClear(0)
		if !found || idx >= uint(sb.inodesPerGroup) {
			continue
		}
		bm.bits.Set(idx)
		fs.groupDescriptors.descriptors[g].freeInodes--
		sb.freeInodes--
		if err := fs.writeInodeBitmap(g); err != nil {
			return 0, err
		}
		return int64(g)*int64(sb.inodesPerGroup) + int64(idx) + 1, nil
	}
	return 0, ErrNoSpace
}

func (fs *FileSystem) writeBlockBitmap(group uint32) error {
	gd := fs.groupDescriptors.descriptors[group]
	b := fs.blockBitmaps[group].toBytes(int(fs.superblock.blockSize))
	offset := fs.start + int64(gd.blockBitmapLocation)*int64(fs.superblock.blockSize)
	written, err := fs.file.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("writing block bitmap for group %d: %w", group, err)
	}
	if written != len(b) {
		return fmt.Errorf("wrote %d bytes of block bitmap for group %d instead of %d", written, group, len(b))
	}
	return nil
}

func (fs *FileSystem) writeInodeBitmap(group uint32) error {
	gd := fs.groupDescriptors.descriptors[group]
	b := fs.inodeBitmaps[group].toBytes(int(fs.superblock.blockSize))
	offset := fs.start + int64(gd.inodeBitmapLocation)*int64(fs.superblock.blockSize)
	written, err := fs.file.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("writing inode bitmap for group %d: %w", group, err)
	}
	if written != len(b) {
		return fmt.Errorf("wrote %d bytes of inode bitmap for group %d instead of %d", written, group, len(b))
	}
	return nil
}
