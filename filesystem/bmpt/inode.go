package bmpt

import (
	"encoding/binary"
	"fmt"
)

type inodeFlag uint32
type fileType uint16

const (
	inodeSize int = 128
	// blockPointerRegionSize is the size of the classic i_block area; the
	// two tree headers live there, back to back
	blockPointerRegionSize int = 60

	inodeFlagSecureDeletion     inodeFlag = 0x1
	inodeFlagImmutable          inodeFlag = 0x10
	inodeFlagAppendOnly         inodeFlag = 0x20
	inodeFlagNoDump             inodeFlag = 0x40
	inodeFlagNoAccessTimeUpdate inodeFlag = 0x80
	// inodeFlagBmptMapping marks an inode whose block-pointer region
	// holds block-mapping-tree headers
	inodeFlagBmptMapping inodeFlag = 0x1000000
	// inodeFlagDupData requests duplicated data blocks for this inode
	inodeFlagDupData inodeFlag = 0x2000000

	fileTypeFifo            fileType = 0x1000
	fileTypeCharacterDevice fileType = 0x2000
	fileTypeDirectory       fileType = 0x4000
	fileTypeBlockDevice     fileType = 0x6000
	fileTypeRegularFile     fileType = 0x8000
	fileTypeSymbolicLink    fileType = 0xA000
	fileTypeSocket          fileType = 0xC000

	fileTypeMask uint16 = 0xF000
)

// inodeFlags is a structure holding the flags for an inode
type inodeFlags struct {
	secureDeletion     bool
	immutable          bool
	appendOnly         bool
	noDump             bool
	noAccessTimeUpdate bool
	bmptMapping        bool
	dupData            bool
}

// Inode is a single inode. The mapping engine mutates the caller's
// in-memory copy and persists it through WriteInode; callers must
// serialize operations on any one inode.
type Inode struct {
	number     int64
	fileType   fileType
	permission uint16
	owner      uint16
	group      uint16
	size       uint32
	linkCount  uint16
	// blocks counts filesystem blocks held by the inode, duplicated
	// copies included
	blocks           uint32
	flags            inodeFlags
	accessTime       uint32
	changeTime       uint32
	modificationTime uint32
	deletionTime     uint32
	generation       uint32
	// blockData is the raw block-pointer region; the first header starts
	// at offset 0 and the reserved second header right after it
	blockData [blockPointerRegionSize]byte
}

// Number is the inode number
func (in *Inode) Number() int64 {
	return in.number
}

// Size is the file size in bytes
func (in *Inode) Size() uint32 {
	return in.size
}

// Blocks is the number of filesystem blocks held by the inode, duplicated
// copies included
func (in *Inode) Blocks() uint32 {
	return in.blocks
}

// IsDir reports whether the inode is a directory
func (in *Inode) IsDir() bool {
	return in.fileType == fileTypeDirectory
}

func (in *Inode) equal(a *Inode) bool {
	if (in == nil && a != nil) || (a == nil && in != nil) {
		return false
	}
	if in == nil && a == nil {
		return true
	}
	return *in == *a
}

// treeHeader decodes the first tree header from the block-pointer region
func (in *Inode) treeHeader() header {
	return headerFromBytes(in.blockData[:headerSize])
}

// setTreeHeader encodes h as the first tree header; the second header's
// bytes are left untouched
func (in *Inode) setTreeHeader(h *header) {
	h.toBytes(in.blockData[:headerSize])
}

// addBlocks/subBlocks adjust the inode's block count, in filesystem
// blocks; the codec converts to 512-byte sectors at the disk boundary
func (in *Inode) addBlocks(n int) {
	in.blocks += uint32(n)
}

func (in *Inode) subBlocks(n int) {
	if uint32(n) > in.blocks {
		in.blocks = 0
		return
	}
	in.blocks -= uint32(n)
}

// inodeFromBytes create an inode struct from bytes
func inodeFromBytes(b []byte, sb *superblock, number int64) (*Inode, error) {
	if len(b) < inodeSize {
		return nil, fmt.Errorf("inode requires %d bytes, received %d", inodeSize, len(b))
	}
	mode := binary.LittleEndian.Uint16(b[0x0:0x2])
	sectors := binary.LittleEndian.Uint32(b[0x1c:0x20])

	in := Inode{
		number:           number,
		fileType:         fileType(mode & fileTypeMask),
		permission:       mode &^ fileTypeMask,
		owner:            binary.LittleEndian.Uint16(b[0x2:0x4]),
		size:             binary.LittleEndian.Uint32(b[0x4:0x8]),
		accessTime:       binary.LittleEndian.Uint32(b[0x8:0xc]),
		changeTime:       binary.LittleEndian.Uint32(b[0xc:0x10]),
		modificationTime: binary.LittleEndian.Uint32(b[0x10:0x14]),
		deletionTime:     binary.LittleEndian.Uint32(b[0x14:0x18]),
		group:            binary.LittleEndian.Uint16(b[0x18:0x1a]),
		linkCount:        binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		blocks:           sectors / (sb.blockSize / 512),
		flags:            parseInodeFlags(binary.LittleEndian.Uint32(b[0x20:0x24])),
		generation:       binary.LittleEndian.Uint32(b[0x64:0x68]),
	}
	copy(in.blockData[:], b[0x28:0x64])
	return &in, nil
}

// toBytes returns an inode ready to be written to disk
func (in *Inode) toBytes(sb *superblock) []byte {
	b := make([]byte, inodeSize)

	binary.LittleEndian.PutUint16(b[0x0:0x2], uint16(in.fileType)|in.permission)
	binary.LittleEndian.PutUint16(b[0x2:0x4], in.owner)
	binary.LittleEndian.PutUint32(b[0x4:0x8], in.size)
	binary.LittleEndian.PutUint32(b[0x8:0xc], in.accessTime)
	binary.LittleEndian.PutUint32(b[0xc:0x10], in.changeTime)
	binary.LittleEndian.PutUint32(b[0x10:0x14], in.modificationTime)
	binary.LittleEndian.PutUint32(b[0x14:0x18], in.deletionTime)
	binary.LittleEndian.PutUint16(b[0x18:0x1a], in.group)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], in.linkCount)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], in.blocks*(sb.blockSize/512))
	binary.LittleEndian.PutUint32(b[0x20:0x24], in.flags.toInt())
	copy(b[0x28:0x64], in.blockData[:])
	binary.LittleEndian.PutUint32(b[0x64:0x68], in.generation)

	return b
}

func parseInodeFlags(flags uint32) inodeFlags {
	f := inodeFlag(flags)
	return inodeFlags{
		secureDeletion:     f&inodeFlagSecureDeletion == inodeFlagSecureDeletion,
		immutable:          f&inodeFlagImmutable == inodeFlagImmutable,
		appendOnly:         f&inodeFlagAppendOnly == inodeFlagAppendOnly,
		noDump:             f&inodeFlagNoDump == inodeFlagNoDump,
		noAccessTimeUpdate: f&inodeFlagNoAccessTimeUpdate == inodeFlagNoAccessTimeUpdate,
		bmptMapping:        f&inodeFlagBmptMapping == inodeFlagBmptMapping,
		dupData:            f&inodeFlagDupData == inodeFlagDupData,
	}
}

func (f *inodeFlags) toInt() uint32 {
	var flags inodeFlag

	if f.secureDeletion {
		flags |= inodeFlagSecureDeletion
	}
	if f.immutable {
		flags |= inodeFlagImmutable
	}
	if f.appendOnly {
		flags |= inodeFlagAppendOnly
	}
	if f.noDump {
		flags |= inodeFlagNoDump
	}
	if f.noAccessTimeUpdate {
		flags |= inodeFlagNoAccessTimeUpdate
	}
	if f.bmptMapping {
		flags |= inodeFlagBmptMapping
	}
	if f.dupData {
		flags |= inodeFlagDupData
	}

	return uint32(flags)
}
