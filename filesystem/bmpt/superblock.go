package bmpt

import (
	"encoding/binary"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
)

const (
	superblockSignature uint16 = 0xef53
	superblockOffset    int64  = 1024
	superblockSize      int    = 1024

	fsStateCleanlyUnmounted uint16 = 1
	errorsContinue          uint16 = 1
	osLinux                 uint32 = 0

	// featureIncompatBmptMapping marks a filesystem whose inodes map
	// their blocks through per-inode block-mapping trees instead of the
	// classic direct/indirect pointer array
	featureIncompatBmptMapping uint32 = 0x10000

	maxVolumeLabelLength int = 16
)

// superblock is a structure holding the fs-wide fields the mapping engine
// and its collaborators read. The layout follows the classic revision-1
// layout; the flex-group and duplication fields live in the extended area.
type superblock struct {
	inodeCount            uint32
	blockCount            uint32
	reservedBlocks        uint32
	freeBlocks            uint32
	freeInodes            uint32
	firstDataBlock        uint32
	blockSize             uint32
	blocksPerGroup        uint32
	inodesPerGroup        uint32
	mountTime             time.Time
	writeTime             time.Time
	mountCount            uint16
	mountsToFsck          uint16
	filesystemState       uint16
	errorBehaviour        uint16
	minorRevision         uint16
	lastCheck             time.Time
	checkInterval         uint32
	creatorOS             uint32
	revisionLevel         uint32
	firstNonReservedInode uint32
	inodeSize             uint16
	featureCompat         uint32
	featureIncompat       uint32
	featureROCompat       uint32
	uuid                  uuid.UUID
	volumeLabel           string
	logGroupsPerFlex      uint8
	// dupinodeDupCnt is how many copies of a data block are kept for
	// inodes with duplication enabled; always <= NumCopies
	dupinodeDupCnt uint8
}

func (sb *superblock) equal(a *superblock) bool {
	if (sb == nil && a != nil) || (a == nil && sb != nil) {
		return false
	}
	if sb == nil && a == nil {
		return true
	}
	return *sb == *a
}

// groupCount is how many block groups the filesystem has
func (sb *superblock) groupCount() uint32 {
	return (sb.blockCount - sb.firstDataBlock + sb.blocksPerGroup - 1) / sb.blocksPerGroup
}

// hasBmptMapping reports whether inodes on this filesystem use
// block-mapping trees
func (sb *superblock) hasBmptMapping() bool {
	return sb.featureIncompat&featureIncompatBmptMapping == featureIncompatBmptMapping
}

// superblockFromBytes create a superblock struct from bytes
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("superblock requires %d bytes, received %d", superblockSize, len(b))
	}
	signature := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if signature != superblockSignature {
		return nil, fmt.Errorf("invalid superblock signature %x", signature)
	}

	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])

	fsuuid, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, fmt.Errorf("could not parse superblock UUID: %v", err)
	}

	label := b[0x78:0x88]
	for len(label) > 0 && label[len(label)-1] == 0 {
		label = label[:len(label)-1]
	}

	sb := superblock{
		inodeCount:            binary.LittleEndian.Uint32(b[0x0:0x4]),
		blockCount:            binary.LittleEndian.Uint32(b[0x4:0x8]),
		reservedBlocks:        binary.LittleEndian.Uint32(b[0x8:0xc]),
		freeBlocks:            binary.LittleEndian.Uint32(b[0xc:0x10]),
		freeInodes:            binary.LittleEndian.Uint32(b[0x10:0x14]),
		firstDataBlock:        binary.LittleEndian.Uint32(b[0x14:0x18]),
		blockSize:             uint32(1024) << logBlockSize,
		blocksPerGroup:        binary.LittleEndian.Uint32(b[0x20:0x24]),
		inodesPerGroup:        binary.LittleEndian.Uint32(b[0x28:0x2c]),
		mountTime:             time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0),
		writeTime:             time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0),
		mountCount:            binary.LittleEndian.Uint16(b[0x34:0x36]),
		mountsToFsck:          binary.LittleEndian.Uint16(b[0x36:0x38]),
		filesystemState:       binary.LittleEndian.Uint16(b[0x3a:0x3c]),
		errorBehaviour:        binary.LittleEndian.Uint16(b[0x3c:0x3e]),
		minorRevision:         binary.LittleEndian.Uint16(b[0x3e:0x40]),
		lastCheck:             time.Unix(int64(binary.LittleEndian.Uint32(b[0x40:0x44])), 0),
		checkInterval:         binary.LittleEndian.Uint32(b[0x44:0x48]),
		creatorOS:             binary.LittleEndian.Uint32(b[0x48:0x4c]),
		revisionLevel:         binary.LittleEndian.Uint32(b[0x4c:0x50]),
		firstNonReservedInode: binary.LittleEndian.Uint32(b[0x54:0x58]),
		inodeSize:             binary.LittleEndian.Uint16(b[0x58:0x5a]),
		featureCompat:         binary.LittleEndian.Uint32(b[0x5c:0x60]),
		featureIncompat:       binary.LittleEndian.Uint32(b[0x60:0x64]),
		featureROCompat:       binary.LittleEndian.Uint32(b[0x64:0x68]),
		uuid:                  fsuuid,
		volumeLabel:           string(label),
		logGroupsPerFlex:      b[0x174],
		dupinodeDupCnt:        b[0x176],
	}

	if !sb.hasBmptMapping() {
		return nil, fmt.Errorf("filesystem does not carry the block-mapping-tree feature")
	}
	if sb.dupinodeDupCnt == 0 || sb.dupinodeDupCnt > NumCopies {
		return nil, fmt.Errorf("invalid duplication count %d, must be between 1 and %d", sb.dupinodeDupCnt, NumCopies)
	}
	if sb.blocksPerGroup == 0 || sb.inodesPerGroup == 0 {
		return nil, fmt.Errorf("invalid group geometry: %d blocks, %d inodes per group", sb.blocksPerGroup, sb.inodesPerGroup)
	}

	return &sb, nil
}

// toBytes returns a superblock ready to be written to disk
func (sb *superblock) toBytes() ([]byte, error) {
	b := make([]byte, superblockSize)

	var logBlockSize uint32
	switch sb.blockSize {
	case 1024:
		logBlockSize = 0
	case 2048:
		logBlockSize = 1
	case 4096:
		logBlockSize = 2
	default:
		return nil, fmt.Errorf("invalid block size %d, must be 1024, 2048 or 4096", sb.blockSize)
	}

	binary.LittleEndian.PutUint32(b[0x0:0x4], sb.inodeCount)
	binary.LittleEndian.PutUint32(b[0x4:0x8], sb.blockCount)
	binary.LittleEndian.PutUint32(b[0x8:0xc], sb.reservedBlocks)
	binary.LittleEndian.PutUint32(b[0xc:0x10], sb.freeBlocks)
	binary.LittleEndian.PutUint32(b[0x10:0x14], sb.freeInodes)
	binary.LittleEndian.PutUint32(b[0x14:0x18], sb.firstDataBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], logBlockSize)
	binary.LittleEndian.PutUint32(b[0x20:0x24], sb.blocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], sb.inodesPerGroup)
	binary.LittleEndian.PutUint32(b[0x2c:0x30], uint32(sb.mountTime.Unix()))
	binary.LittleEndian.PutUint32(b[0x30:0x34], uint32(sb.writeTime.Unix()))
	binary.LittleEndian.PutUint16(b[0x34:0x36], sb.mountCount)
	binary.LittleEndian.PutUint16(b[0x36:0x38], sb.mountsToFsck)
	binary.LittleEndian.PutUint16(b[0x38:0x3a], superblockSignature)
	binary.LittleEndian.PutUint16(b[0x3a:0x3c], sb.filesystemState)
	binary.LittleEndian.PutUint16(b[0x3c:0x3e], sb.errorBehaviour)
	binary.LittleEndian.PutUint16(b[0x3e:0x40], sb.minorRevision)
	binary.LittleEndian.PutUint32(b[0x40:0x44], uint32(sb.lastCheck.Unix()))
	binary.LittleEndian.PutUint32(b[0x44:0x48], sb.checkInterval)
	binary.LittleEndian.PutUint32(b[0x48:0x4c], sb.creatorOS)
	binary.LittleEndian.PutUint32(b[0x4c:0x50], sb.revisionLevel)
	binary.LittleEndian.PutUint32(b[0x54:0x58], sb.firstNonReservedInode)
	binary.LittleEndian.PutUint16(b[0x58:0x5a], sb.inodeSize)
	binary.LittleEndian.PutUint32(b[0x5c:0x60], sb.featureCompat)
	binary.LittleEndian.PutUint32(b[0x60:0x64], sb.featureIncompat)
	binary.LittleEndian.PutUint32(b[0x64:0x68], sb.featureROCompat)
	copy(b[0x68:0x78], sb.uuid.Bytes())

	label, err := stringToASCIIBytes(sb.volumeLabel)
	if err != nil {
		return nil, fmt.Errorf("invalid volume label: %v", err)
	}
	if len(label) > maxVolumeLabelLength {
		return nil, fmt.Errorf("volume label %s longer than maximum %d bytes", sb.volumeLabel, maxVolumeLabelLength)
	}
	copy(b[0x78:0x88], label)

	b[0x174] = sb.logGroupsPerFlex
	b[0x176] = sb.dupinodeDupCnt

	return b, nil
}
