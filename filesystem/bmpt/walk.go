package bmpt

import (
	"fmt"
)

// WalkAction is what a visitor tells the traversal to do next. Actions
// combine: WalkChanged | WalkAbort records the change and then stops.
type WalkAction uint32

const (
	// WalkContinue keeps going
	WalkContinue WalkAction = 0
	// WalkChanged tells a mutating iteration that the visitor rewrote the
	// record; the read-only Walk ignores it
	WalkChanged WalkAction = 0x1
	// WalkAbort stops the traversal as soon as control returns to it
	WalkAbort WalkAction = 0x2
)

// WalkFunc visits one record of a tree. block is the first logical block
// the record covers, depth counts hops from the root record (root = 0),
// level is the record's level (leaf = 0), and dup reports whether the tree
// duplicates its data blocks.
type WalkFunc func(block uint32, rec Record, depth, level int, dup bool) WalkAction

// Walk traverses the populated records of the range [start, end] in
// pre-order, read-only. The visitor runs once per leaf record in range,
// and additionally once per interior record when onIndex is set. It
// returns whether the visitor aborted the traversal.
func (fs *FileSystem) Walk(in *Inode, start, end uint32, onIndex bool, fn WalkFunc) (bool, error) {
	if !in.flags.bmptMapping {
		return false, ErrNotBmpt
	}
	if end < start {
		return false, fmt.Errorf("invalid walk range %d..%d", start, end)
	}
	hdr := in.treeHeader()
	if !hdr.valid() {
		return false, ErrBadHeader
	}
	if int(hdr.levels) > maxLevels {
		return false, fmt.Errorf("%w: tree height %d exceeds maximum %d", ErrCorrupt, hdr.levels, maxLevels)
	}
	if hdr.root.IsNull() {
		return false, nil
	}

	count := uint64(end) - uint64(start) + 1
	if end >= blkMax {
		count = uint64(blkMax) - uint64(start)
	}
	if hdr.levels == 0 && start > 0 {
		// a direct tree only maps block 0
		return false, nil
	}
	return fs.walkRecord(hdr.root, 0, int(hdr.levels), 0, uint64(start), count, onIndex, hdr.dup(), fn)
}

func (fs *FileSystem) walkRecord(rec Record, base uint64, level, depth int, start, count uint64, onIndex bool, dup bool, fn WalkFunc) (bool, error) {
	if level == 0 {
		act := fn(uint32(base), rec, depth, 0, dup)
		return act&WalkAbort != 0, nil
	}
	if onIndex {
		if act := fn(uint32(base), rec, depth, level, dup); act&WalkAbort != 0 {
			return true, nil
		}
	}
	buf := make([]byte, fs.superblock.blockSize)
	if err := fs.readBlock(rec.Blocks[0], buf); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	fanout := fs.fanout()
	incr := blocksCovered(fanout, level-1)
	for i := 0; i < int(fanout); i++ {
		childBase := base + uint64(i)*incr
		if childBase >= start+count {
			break
		}
		if childBase+incr <= start {
			continue
		}
		child := recordAt(buf, i)
		if child.IsNull() {
			continue
		}
		aborted, err := fs.walkRecord(child, childBase, level-1, depth+1, start, count, onIndex, dup, fn)
		if aborted || err != nil {
			return aborted, err
		}
	}
	return false, nil
}

// iterateAppend runs a mutating iteration over every logical block of the
// inode from zero through one past the last block covered by its size,
// holes included. The visitor may rewrite the record in place and return
// WalkChanged to have it installed through Map; WalkAbort stops the
// iteration. This is the walker directory expansion uses to append a
// block.
func (fs *FileSystem) iterateAppend(in *Inode, fn func(block uint32, rec *Record) WalkAction) error {
	nblocks := in.size / fs.superblock.blockSize
	for b := uint32(0); b <= nblocks; b++ {
		var rec Record
		if _, err := fs.Map(in, MapRead, b, &rec); err != nil {
			return err
		}
		act := fn(b, &rec)
		if act&WalkChanged != 0 {
			if _, err := fs.Map(in, MapSet, b, &rec); err != nil {
				return err
			}
		}
		if act&WalkAbort != 0 {
			break
		}
	}
	return nil
}
