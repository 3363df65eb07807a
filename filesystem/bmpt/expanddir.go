package bmpt

import (
	"fmt"
)

// NewDirectory allocates a directory inode and writes its first, empty
// directory block through the mapping tree
func (fs *FileSystem) NewDirectory(dupOn bool) (*Inode, error) {
	in, err := fs.NewInode(true, dupOn)
	if err != nil {
		return nil, err
	}
	var rec Record
	if _, err := fs.Map(in, MapAlloc, 0, &rec); err != nil {
		return nil, err
	}
	payload, err := newDirectoryBlock(int(fs.superblock.blockSize))
	if err != nil {
		return nil, err
	}
	if err := fs.writeRecordBlocks(&rec, payload); err != nil {
		return nil, err
	}
	in.size = fs.superblock.blockSize
	in.linkCount = 2
	if err := fs.WriteInode(in); err != nil {
		return nil, err
	}
	return in, nil
}

// expandDirState carries the bookkeeping of one directory expansion
// through the iteration visitor
type expandDirState struct {
	done      bool
	newBlocks int
	goal      Record
	err       error
}

// ExpandDirectory grows a directory inode by one block. It iterates the
// directory's blocks in append mode: existing blocks just update the
// allocation goal, the first hole past block zero receives a fresh empty
// directory block, and interior holes below it are plugged with zero
// blocks. All consumption of the tree goes through the public mapping
// operations.
func (fs *FileSystem) ExpandDirectory(ino int64) error {
	in, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}
	if !in.IsDir() {
		return fmt.Errorf("inode %d is not a directory", ino)
	}
	if !in.flags.bmptMapping {
		return ErrNotBmpt
	}

	var es expandDirState
	err = fs.iterateAppend(in, func(block uint32, rec *Record) WalkAction {
		return fs.expandDirVisit(in, block, rec, &es)
	})
	if err != nil {
		return err
	}
	if es.err != nil {
		return es.err
	}
	if !es.done {
		return ErrExpandDir
	}

	in.size += fs.superblock.blockSize
	in.addBlocks(es.newBlocks)
	return fs.WriteInode(in)
}

func (fs *FileSystem) expandDirVisit(in *Inode, block uint32, rec *Record, es *expandDirState) WalkAction {
	if !rec.IsNull() {
		es.goal = *rec
		return WalkContinue
	}

	var newRec Record
	var err error
	if in.flags.dupData {
		newRec, err = fs.allocDupBlock(in.number, &es.goal)
	} else {
		goal := es.goal.Blocks[0]
		if goal == 0 {
			goal = fs.findGoal(in.number, 0)
		}
		newRec.Blocks[0], err = fs.allocBlock(goal)
	}
	if err != nil {
		es.err = err
		return WalkAbort
	}

	var payload []byte
	if block > 0 {
		payload, err = newDirectoryBlock(int(fs.superblock.blockSize))
		es.done = err == nil
	} else {
		// block zero of a directory is built by its creator; a hole there
		// is plugged with zeros
		payload = make([]byte, fs.superblock.blockSize)
	}
	if err == nil {
		err = fs.writeRecordBlocks(&newRec, payload)
	}
	if err != nil {
		for j := 0; j < NumCopies; j++ {
			if newRec.Blocks[j] != 0 {
				_ = fs.releaseBlock(newRec.Blocks[j])
			}
		}
		es.err = err
		es.done = false
		return WalkAbort
	}

	for j := 0; j < NumCopies; j++ {
		if newRec.Blocks[j] != 0 {
			es.newBlocks++
		}
	}
	es.goal = newRec
	*rec = newRec

	if es.done {
		return WalkChanged | WalkAbort
	}
	return WalkChanged
}
