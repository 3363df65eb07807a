package bmpt

import (
	"fmt"
)

// blkMax is the highest addressable logical block
const blkMax uint32 = 0xffffffff

// Punch clears the logical blocks [start, end], both inclusive, releasing
// their data blocks and any indirection blocks whose sub-tree becomes
// empty. An end at or beyond the addressing limit is clamped.
//
// Punch is not atomic: a mid-sweep failure returns immediately and leaves
// a valid but partially punched tree, with the in-memory block count
// adjusted for what was definitely freed. Child blocks are rewritten
// before their parent record is nulled, and the parent record is nulled
// before its own blocks are released, so the tree stays consistent at
// every step. The inode is rewritten only if the header changed; when the
// sweep empties the tree, the height is reset to zero.
func (fs *FileSystem) Punch(in *Inode, start, end uint32) error {
	if !in.flags.bmptMapping {
		return ErrNotBmpt
	}
	if end < start {
		return fmt.Errorf("invalid punch range %d..%d", start, end)
	}
	hdr := in.treeHeader()
	if !hdr.valid() {
		// nothing was ever mapped
		return nil
	}
	if int(hdr.levels) > maxLevels {
		return fmt.Errorf("%w: tree height %d exceeds maximum %d", ErrCorrupt, hdr.levels, maxLevels)
	}

	count := uint64(end) - uint64(start) + 1
	if end >= blkMax {
		count = uint64(blkMax) - uint64(start)
	}

	log.Debugf("punch inode %d blocks %d..%d", in.number, start, end)

	// the root record is a one-entry array whose backing store is the
	// header rather than a block
	rootArr := make([]byte, recordSize)
	hdr.root.toBytes(rootArr)
	freed := 0
	err := fs.punchRecords(rootArr, 1, int(hdr.levels), uint64(start), count, &freed)
	if freed > 0 {
		in.subBlocks(freed)
	}
	log.Debugf("punch inode %d freed %d blocks", in.number, freed)
	if err != nil {
		return err
	}

	newRoot := recordFromBytes(rootArr)
	if newRoot != hdr.root {
		hdr.root = newRoot
		if newRoot.IsNull() {
			hdr.levels = 0
		}
		in.setTreeHeader(&hdr)
		return fs.WriteInode(in)
	}
	return nil
}

// punchRecords sweeps one record array in post-order. b holds nrecs
// records at the given level; start and count are relative to the first
// logical block the array covers. Records fully outside the range are
// skipped; interior records are recursed into, their blocks rewritten,
// and released only once their sub-tree is entirely null. freed counts
// every physical copy released.
func (fs *FileSystem) punchRecords(b []byte, nrecs, level int, start, count uint64, freed *int) error {
	fanout := fs.fanout()
	incr := blocksCovered(fanout, level)
	for i := 0; i < nrecs; i++ {
		offset := uint64(i) * incr
		if offset >= start+count {
			break
		}
		rec := recordAt(b, i)
		if rec.IsNull() || offset+incr <= start {
			continue
		}
		if level > 0 {
			child := make([]byte, fs.superblock.blockSize)
			if err := fs.readBlock(rec.Blocks[0], child); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			start2 := uint64(0)
			if start > offset {
				start2 = start - offset
			}
			end2 := start + count - offset
			if end2 > incr {
				end2 = incr
			}
			if err := fs.punchRecords(child, int(fanout), level-1, start2, end2-start2, freed); err != nil {
				return err
			}
			if err := fs.writeRecordBlocks(&rec, child); err != nil {
				return err
			}
			if !checkZeroBlock(child) {
				continue
			}
		}
		for j := 0; j < NumCopies; j++ {
			if rec.Blocks[j] == 0 {
				continue
			}
			if err := fs.releaseBlock(rec.Blocks[j]); err != nil {
				return err
			}
			*freed++
		}
		rec.Clear()
		setRecordAt(b, i, &rec)
	}
	return nil
}
