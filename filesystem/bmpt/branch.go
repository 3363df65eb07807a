package bmpt

// maxLevels is the deepest tree this implementation accepts; anything
// deeper on disk is treated as corruption
const maxLevels = 7

// allocTracker records every block number allocated during one mapping
// operation. rollback releases them all, newest first. Map calls it only
// while nothing it allocated is referenced by committed state: before the
// first write that publishes new blocks and, when height growth already
// reached disk, after the restored header has been rewritten.
type allocTracker struct {
	fs     *FileSystem
	blocks []uint32
}

func (t *allocTracker) alloc(goal uint32) (uint32, error) {
	blk, err := t.fs.allocBlock(goal)
	if err != nil {
		return 0, err
	}
	t.blocks = append(t.blocks, blk)
	return blk, nil
}

func (t *allocTracker) count() int {
	return len(t.blocks)
}

func (t *allocTracker) rollback() {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		_ = t.fs.releaseBlock(t.blocks[i])
	}
	t.blocks = nil
}

// allocIndexRecord allocates the full set of copies for one indirection
// block. Interior blocks are always duplicated to every copy slot,
// whatever the header's data-duplication flag says.
func (fs *FileSystem) allocIndexRecord(ino int64, t *allocTracker) (Record, error) {
	var rec Record
	for j := 0; j < NumCopies; j++ {
		blk, err := t.alloc(fs.findGoal(ino, j))
		if err != nil {
			return Record{}, err
		}
		rec.Blocks[j] = blk
	}
	return rec, nil
}

// allocDataRecord allocates the copies for one data block: dupinodeDupCnt
// copies when the tree duplicates data, one otherwise. The fresh blocks
// are zero-filled so holes and new blocks read identically.
func (fs *FileSystem) allocDataRecord(in *Inode, hdr *header, t *allocTracker) (Record, error) {
	var rec Record
	n := 1
	if hdr.dup() {
		n = int(fs.superblock.dupinodeDupCnt)
	}
	for j := 0; j < n; j++ {
		blk, err := t.alloc(fs.findGoal(in.number, j))
		if err != nil {
			return Record{}, err
		}
		rec.Blocks[j] = blk
	}
	zero := make([]byte, fs.superblock.blockSize)
	if err := fs.writeRecordBlocks(&rec, zero); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// increaseHeight grows the tree by addLevels new interior levels. Each new
// block links the next at slot 0, because everything the old tree maps
// sits below offset 0 of every new level; the deepest new block links the
// current root, splicing the old tree under the new apex. Blocks are
// written bottom to top so the apex only reaches disk after its interior,
// and the header update is persisted strictly after all of them. On
// failure the header is left unchanged; the caller's tracker owns the
// newly allocated blocks.
func (fs *FileSystem) increaseHeight(in *Inode, hdr *header, addLevels int, t *allocTracker) error {
	recs := make([]Record, addLevels)
	for i := range recs {
		rec, err := fs.allocIndexRecord(in.number, t)
		if err != nil {
			return err
		}
		recs[i] = rec
	}

	buf := make([]byte, fs.superblock.blockSize)
	for i := addLevels - 1; i >= 0; i-- {
		for j := range buf {
			buf[j] = 0
		}
		if i != addLevels-1 {
			setRecordAt(buf, 0, &recs[i+1])
		} else {
			setRecordAt(buf, 0, &hdr.root)
		}
		if err := fs.writeRecordBlocks(&recs[i], buf); err != nil {
			return err
		}
	}

	saved := *hdr
	hdr.levels += uint32(addLevels)
	hdr.root = recs[0]
	in.setTreeHeader(hdr)
	if err := fs.WriteInode(in); err != nil {
		*hdr = saved
		in.setTreeHeader(hdr)
		return err
	}
	return nil
}

// buildBranch allocates a chain of depth fresh indirection blocks leading
// down to (but not including) the data block for the target logical
// block. Chain entry i lives at tree level depth-1-i; each carries exactly
// one populated slot, at the offset the target block computes for that
// level, naming the next entry down. The deepest block is left all-zero;
// filling its data slot is the mapper's job, and splicing recs[0] into the
// existing parent is deferred to the mapper's final write.
func (fs *FileSystem) buildBranch(in *Inode, block uint32, depth int, t *allocTracker) ([]Record, error) {
	fanout := fs.fanout()
	recs := make([]Record, depth)
	for i := range recs {
		rec, err := fs.allocIndexRecord(in.number, t)
		if err != nil {
			return nil, err
		}
		recs[i] = rec
	}

	buf := make([]byte, fs.superblock.blockSize)
	for i := 0; i < depth; i++ {
		for j := range buf {
			buf[j] = 0
		}
		if i != depth-1 {
			level := depth - 1 - i
			off := recOffset(block, level, fanout)
			setRecordAt(buf, off, &recs[i+1])
		}
		if err := fs.writeRecordBlocks(&recs[i], buf); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
