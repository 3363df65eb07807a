package bmpt

import (
	"fmt"
)

// MapMode selects what Map may do when it encounters a hole
type MapMode uint32

const (
	// MapRead looks the block up; it never mutates anything
	MapRead MapMode = 0
	// MapAlloc allocates a data block and any missing interior blocks
	MapAlloc MapMode = 0x1
	// MapSet installs the caller-provided record at the leaf, growing the
	// tree as needed
	MapSet MapMode = 0x2
)

// MapInfo reports what a Map call did
type MapInfo uint32

const (
	// MapInfoAllocated means a data block was allocated by this call
	MapInfoAllocated MapInfo = 0x1
	// MapInfoBranched means missing interior blocks were created
	MapInfoBranched MapInfo = 0x2
	// MapInfoGrown means the tree height was increased
	MapInfoGrown MapInfo = 0x4
)

// Map resolves the logical block of an inode to its physical record.
//
// In MapRead mode a hole comes back as a null record. MapAlloc fills holes:
// missing interior levels, height included, are created and a fresh
// zero-filled data block is allocated; a block that is already mapped is
// returned unchanged. MapSet installs the record the caller passes in via
// phys at the leaf. phys is written in place with the resulting record.
//
// Map is failure-atomic at the on-disk level. The previously committed
// tree stays authoritative until the final write that publishes new blocks
// into it; any earlier failure releases everything allocated by this call
// and restores the caller's in-memory inode.
func (fs *FileSystem) Map(in *Inode, mode MapMode, block uint32, phys *Record) (MapInfo, error) {
	var info MapInfo

	if !in.flags.bmptMapping {
		return 0, ErrNotBmpt
	}
	insert := mode&(MapAlloc|MapSet) != 0
	if mode&MapSet == 0 {
		phys.Clear()
	}

	hdr := in.treeHeader()
	if !hdr.valid() {
		if !insert {
			return 0, ErrBadHeader
		}
		h := freshHeader(in.flags.dupData)
		in.setTreeHeader(&h)
		hdr = h
	}
	if int(hdr.levels) > maxLevels {
		return 0, fmt.Errorf("%w: tree height %d exceeds maximum %d", ErrCorrupt, hdr.levels, maxLevels)
	}

	t := &allocTracker{fs: fs}
	savedBlockData := in.blockData
	savedBlocks := in.blocks
	grown := false
	published := false

	// fail unwinds a partial operation. Before anything references the new
	// blocks it releases them and restores the inode; once a write has
	// published them into the committed tree there is nothing to unwind.
	fail := func(err error) (MapInfo, error) {
		if published {
			return 0, err
		}
		in.blockData = savedBlockData
		in.blocks = savedBlocks
		if grown {
			werr := fs.WriteInode(in)
			if werr != nil {
				// retry the restore once; past that the on-disk header
				// still names the grown tree and releasing its blocks
				// would corrupt it
				if werr = fs.WriteInode(in); werr != nil {
					return 0, fmt.Errorf("%w: could not restore tree header after failed mapping: %v", ErrCorrupt, werr)
				}
			}
		}
		t.rollback()
		return 0, err
	}

	fanout := fs.fanout()
	need := minNumLevels(block, fanout)
	if need > int(hdr.levels) {
		if !insert {
			return info, nil
		}
		if need > maxLevels {
			return 0, fmt.Errorf("%w: logical block %d needs tree height %d above maximum %d", ErrCorrupt, block, need, maxLevels)
		}
		if err := fs.increaseHeight(in, &hdr, need-int(hdr.levels), t); err != nil {
			return fail(err)
		}
		grown = true
		info |= MapInfoGrown
	}

	if hdr.levels == 0 {
		linfo, err := fs.mapLinear(in, &hdr, mode, phys, t)
		if err != nil {
			return fail(err)
		}
		return info | linfo, nil
	}

	buf := make([]byte, fs.superblock.blockSize)
	var (
		pending    []Record // chain built for a missing branch, top first
		spliceRec  Record   // existing parent block to rewrite last
		spliceOff  int
		spliceBuf  []byte
		spliceRoot bool // the chain hangs off the header root itself
	)

	cur := hdr.root
	if cur.IsNull() {
		// a null root under levels > 0 only appears on damaged trees; a
		// hole for readers, a full-depth chain spliced into the header
		// for inserts
		if !insert {
			return info, nil
		}
		chain, err := fs.buildBranch(in, block, int(hdr.levels), t)
		if err != nil {
			return fail(err)
		}
		info |= MapInfoBranched
		pending = chain
		spliceRoot = true
		cur = chain[0]
	}

	for level := int(hdr.levels) - 1; level >= 0; level-- {
		if err := fs.readBlock(cur.Blocks[0], buf); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
		}
		off := recOffset(block, level, fanout)
		rec := recordAt(buf, off)

		if rec.IsNull() && level > 0 {
			if !insert {
				return info, nil
			}
			chain, err := fs.buildBranch(in, block, level, t)
			if err != nil {
				return fail(err)
			}
			info |= MapInfoBranched
			pending = chain
			spliceRec = cur
			spliceOff = off
			spliceBuf = append([]byte(nil), buf...)
			cur = chain[0]
			continue
		}
		if level > 0 {
			cur = rec
			continue
		}

		// leaf step; buf holds the deepest indirection block, named by cur
		switch {
		case mode&MapSet != 0:
			setRecordAt(buf, off, phys)
			if err := fs.writeRecordBlocks(&cur, buf); err != nil {
				return fail(err)
			}
			if pending == nil {
				published = true
			}
		case rec.IsNull() && mode&MapAlloc != 0:
			dbrec, err := fs.allocDataRecord(in, &hdr, t)
			if err != nil {
				return fail(err)
			}
			setRecordAt(buf, off, &dbrec)
			if err := fs.writeRecordBlocks(&cur, buf); err != nil {
				return fail(err)
			}
			if pending == nil {
				published = true
			}
			*phys = dbrec
			info |= MapInfoAllocated
		default:
			// pure lookup, or an alloc that found the block mapped
			*phys = rec
		}
	}

	// splice a newly built chain into the pre-existing tree. Deliberately
	// the last block write of the call: until it lands, the committed tree
	// does not reference anything allocated here.
	if pending != nil {
		if spliceRoot {
			hdr.root = pending[0]
		} else {
			setRecordAt(spliceBuf, spliceOff, &pending[0])
			if err := fs.writeRecordBlocks(&spliceRec, spliceBuf); err != nil {
				return fail(err)
			}
			published = true
		}
	}

	if t.count() > 0 || spliceRoot {
		if spliceRoot {
			in.setTreeHeader(&hdr)
		}
		in.addBlocks(t.count())
		if err := fs.WriteInode(in); err != nil {
			return fail(err)
		}
		published = true
	}

	return info, nil
}

// mapLinear handles the height-zero tree, where the header root itself is
// the single data record
func (fs *FileSystem) mapLinear(in *Inode, hdr *header, mode MapMode, phys *Record, t *allocTracker) (MapInfo, error) {
	var info MapInfo
	switch {
	case mode&MapSet != 0:
		hdr.root = *phys
		in.setTreeHeader(hdr)
		if err := fs.WriteInode(in); err != nil {
			return 0, err
		}
	case hdr.root.IsNull() && mode&MapAlloc != 0:
		rec, err := fs.allocDataRecord(in, hdr, t)
		if err != nil {
			return 0, err
		}
		hdr.root = rec
		in.setTreeHeader(hdr)
		in.addBlocks(t.count())
		if err := fs.WriteInode(in); err != nil {
			return 0, err
		}
		info |= MapInfoAllocated
	}
	*phys = hdr.root
	return info, nil
}
