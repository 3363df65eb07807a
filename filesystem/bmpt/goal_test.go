package bmpt

import (
	"testing"
)

func TestFindGoalSpreadsFlexGroups(t *testing.T) {
	size := 2 * MB
	mf := newMemFile(size)
	fs, err := Create(mf, size, 0, Params{BlocksPerGroup: 512, LogGroupsPerFlex: 1})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got := fs.superblock.groupCount(); got != 4 {
		t.Fatalf("setup expected 4 groups, got %d", got)
	}

	ino := int64(firstNonReservedInode)
	if got := fs.groupOfInode(ino); got != 0 {
		t.Fatalf("inode %d landed in group %d", ino, got)
	}
	goals := map[uint32]bool{}
	for slot := 0; slot < NumCopies; slot++ {
		g := fs.findGoal(ino, slot)
		if want := fs.groupFirstBlock(uint32(slot)); g != want {
			t.Errorf("slot %d goal %d, expected first block %d of group %d", slot, g, want, slot)
		}
		goals[g] = true
	}
	if len(goals) != NumCopies {
		t.Fatalf("copy goals collide: %v", goals)
	}
}

func TestFindGoalMasksFlexGroup(t *testing.T) {
	size := 2 * MB
	mf := newMemFile(size)
	fs, err := Create(mf, size, 0, Params{BlocksPerGroup: 512, LogGroupsPerFlex: 1})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	// an inode in group 3 belongs to the flex group starting at group 2
	ino := int64(3*fs.superblock.inodesPerGroup + 1)
	if got := fs.groupOfInode(ino); got != 3 {
		t.Fatalf("inode %d landed in group %d", ino, got)
	}
	if g := fs.findGoal(ino, 0); g != fs.groupFirstBlock(2) {
		t.Fatalf("slot 0 goal %d, expected flex base group 2 at %d", g, fs.groupFirstBlock(2))
	}
	// slots walk forward from the flex base, wrapping on the group count
	if g := fs.findGoal(ino, 2); g != fs.groupFirstBlock(0) {
		t.Fatalf("slot 2 goal %d did not wrap to group 0 at %d", g, fs.groupFirstBlock(0))
	}
}

func TestFindGoalNoFlex(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	// one group, no flex: every slot resolves to the same first block
	for slot := 0; slot < NumCopies; slot++ {
		if g := fs.findGoal(20, slot); g != fs.superblock.firstDataBlock {
			t.Fatalf("slot %d goal %d, expected %d", slot, g, fs.superblock.firstDataBlock)
		}
	}
}
