package bmpt

import (
	"testing"
)

// buildTestTree maps the given logical blocks and returns their records
func buildTestTree(t *testing.T, fs *FileSystem, in *Inode, blocks []uint32) map[uint32]Record {
	t.Helper()
	recs := map[uint32]Record{}
	for _, b := range blocks {
		recs[b] = mustAlloc(t, fs, in, b)
	}
	return recs
}

func TestPunchRange(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	recs := buildTestTree(t, fs, in, []uint32{0, 1, 63, 64, 100})

	if err := fs.Punch(in, 1, 63); err != nil {
		t.Fatalf("Punch error: %v", err)
	}

	for _, b := range []uint32{0, 64, 100} {
		if got := mustRead(t, fs, in, b); got != recs[b] {
			t.Fatalf("block %d no longer maps to its original record: %+v vs %+v", b, got, recs[b])
		}
	}
	for b := uint32(1); b <= 63; b++ {
		if got := mustRead(t, fs, in, b); !got.IsNull() {
			t.Fatalf("block %d survived the punch: %+v", b, got)
		}
	}
	// data blocks 1 and 63 freed, nothing else: the level-0 block under
	// the range still carries block 0
	if in.blocks != 12 {
		t.Fatalf("expected 12 blocks accounted, got %d", in.blocks)
	}
}

// punching the last leaf of a subtree releases its indirection block and
// nulls the parent slot
func TestPunchFreesEmptyIndirectionBlock(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	buildTestTree(t, fs, in, []uint32{0, 1, 63, 64, 100})
	if err := fs.Punch(in, 1, 63); err != nil {
		t.Fatalf("Punch error: %v", err)
	}

	hdr := in.treeHeader()
	freeBefore := fs.superblock.freeBlocks

	// block 0 is the only survivor under the first level-0 block;
	// punching it must empty and free that indirection block
	if err := fs.Punch(in, 0, 0); err != nil {
		t.Fatalf("Punch error: %v", err)
	}
	if got := mustRead(t, fs, in, 0); !got.IsNull() {
		t.Fatalf("block 0 survived the punch: %+v", got)
	}
	// one data block and the three copies of the emptied level-0 block
	if fs.superblock.freeBlocks != freeBefore+4 {
		t.Fatalf("expected 4 blocks freed, got %d", fs.superblock.freeBlocks-freeBefore)
	}
	buf := make([]byte, fs.superblock.blockSize)
	if err := fs.readBlock(hdr.root.Blocks[0], buf); err != nil {
		t.Fatalf("readBlock error: %v", err)
	}
	if got := recordAt(buf, 0); !got.IsNull() {
		t.Fatalf("parent slot of the emptied indirection block not nulled: %+v", got)
	}
	if got := mustRead(t, fs, in, 64); got.IsNull() {
		t.Fatalf("unrelated subtree damaged by punch")
	}
}

// punching everything resets the tree to its empty direct form and
// returns every accounted block
func TestPunchEverythingResets(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, true)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	freeStart := fs.superblock.freeBlocks
	buildTestTree(t, fs, in, []uint32{0, 1, 63, 64, 100, 4096, 1 << 20})
	if in.blocks == 0 {
		t.Fatalf("setup accounted no blocks")
	}
	if fs.superblock.freeBlocks+in.blocks != freeStart {
		t.Fatalf("inode accounting does not match the allocator: %d + %d != %d", fs.superblock.freeBlocks, in.blocks, freeStart)
	}

	if err := fs.Punch(in, 0, blkMax); err != nil {
		t.Fatalf("Punch error: %v", err)
	}

	hdr := in.treeHeader()
	if hdr.levels != 0 {
		t.Fatalf("expected levels reset to 0, got %d", hdr.levels)
	}
	if !hdr.root.IsNull() {
		t.Fatalf("expected null root, got %+v", hdr.root)
	}
	if in.blocks != 0 {
		t.Fatalf("expected 0 blocks accounted, got %d", in.blocks)
	}
	if fs.superblock.freeBlocks != freeStart {
		t.Fatalf("allocator free count drifted: %d before, %d after", freeStart, fs.superblock.freeBlocks)
	}

	// the reset tree is usable again
	rec := mustAlloc(t, fs, in, 0)
	if got := mustRead(t, fs, in, 0); got != rec {
		t.Fatalf("tree unusable after full punch: %+v vs %+v", got, rec)
	}
}

func TestPunchUntouchedTree(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	if err := fs.Punch(in, 0, blkMax); err != nil {
		t.Fatalf("Punch of an empty tree error: %v", err)
	}
	if in.blocks != 0 {
		t.Fatalf("punch of empty tree changed the block count to %d", in.blocks)
	}
}

func TestPunchPartialRange(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	buildTestTree(t, fs, in, []uint32{10, 20, 30})

	// a range covering no mapped block changes nothing
	blocksBefore := in.blocks
	if err := fs.Punch(in, 11, 19); err != nil {
		t.Fatalf("Punch error: %v", err)
	}
	if in.blocks != blocksBefore {
		t.Fatalf("no-op punch changed the block count")
	}
	for _, b := range []uint32{10, 20, 30} {
		if got := mustRead(t, fs, in, b); got.IsNull() {
			t.Fatalf("block %d lost by no-op punch", b)
		}
	}

	if err := fs.Punch(in, 20, 20); err != nil {
		t.Fatalf("Punch error: %v", err)
	}
	if got := mustRead(t, fs, in, 20); !got.IsNull() {
		t.Fatalf("block 20 survived the punch")
	}
	for _, b := range []uint32{10, 30} {
		if got := mustRead(t, fs, in, b); got.IsNull() {
			t.Fatalf("block %d lost", b)
		}
	}
}
