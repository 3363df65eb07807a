package bmpt

import (
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
)

func testSuperblock() *superblock {
	fsuuid, _ := uuid.FromString("3d79a1a6-2f60-4a94-9e9e-9b2ae6fb2f4c")
	when := time.Unix(1600000000, 0)
	return &superblock{
		inodeCount:            1024,
		blockCount:            8192,
		freeBlocks:            8000,
		freeInodes:            1014,
		firstDataBlock:        1,
		blockSize:             1024,
		blocksPerGroup:        8192,
		inodesPerGroup:        1024,
		mountTime:             when,
		writeTime:             when,
		filesystemState:       fsStateCleanlyUnmounted,
		errorBehaviour:        errorsContinue,
		lastCheck:             when,
		creatorOS:             osLinux,
		revisionLevel:         1,
		firstNonReservedInode: firstNonReservedInode,
		inodeSize:             uint16(inodeSize),
		featureIncompat:       featureIncompatBmptMapping,
		uuid:                  fsuuid,
		volumeLabel:           "testvolume",
		logGroupsPerFlex:      2,
		dupinodeDupCnt:        3,
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	sb := testSuperblock()
	b, err := sb.toBytes()
	if err != nil {
		t.Fatalf("toBytes error: %v", err)
	}
	if len(b) != superblockSize {
		t.Fatalf("superblock encoded to %d bytes instead of %d", len(b), superblockSize)
	}
	got, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("superblockFromBytes error: %v", err)
	}
	if !sb.equal(got) {
		t.Fatalf("superblock did not round-trip:\n%+v\n%+v", sb, got)
	}
}

func TestSuperblockBadSignature(t *testing.T) {
	sb := testSuperblock()
	b, err := sb.toBytes()
	if err != nil {
		t.Fatalf("toBytes error: %v", err)
	}
	b[0x38] = 0
	if _, err := superblockFromBytes(b); err == nil {
		t.Fatalf("expected error for bad signature")
	}
}

func TestSuperblockMissingFeature(t *testing.T) {
	sb := testSuperblock()
	sb.featureIncompat = 0
	b, err := sb.toBytes()
	if err != nil {
		t.Fatalf("toBytes error: %v", err)
	}
	if _, err := superblockFromBytes(b); err == nil {
		t.Fatalf("expected error for missing mapping feature")
	}
}

func TestSuperblockGroupCount(t *testing.T) {
	sb := testSuperblock()
	if got := sb.groupCount(); got != 1 {
		t.Fatalf("expected 1 group, got %d", got)
	}
	sb.blockCount = 2048
	sb.blocksPerGroup = 512
	if got := sb.groupCount(); got != 4 {
		t.Fatalf("expected 4 groups, got %d", got)
	}
}
