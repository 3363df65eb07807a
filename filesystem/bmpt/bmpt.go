package bmpt

import (
	"fmt"
	"time"

	"github.com/diskfs/bmptfs/filesystem"
	"github.com/diskfs/bmptfs/util"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("filesystem", "bmpt")

const (
	// DefaultBlockSize is the block size used when Params does not name one
	DefaultBlockSize uint32 = 1024
	// DefaultInodeRatio is one inode per this many bytes
	DefaultInodeRatio int64 = 8192
	// DefaultVolumeName is the volume label used when Params does not name one
	DefaultVolumeName = "bmptfs"

	firstNonReservedInode uint32 = 11 // traditional
	bootRegionSize        int64  = 1024
)

// Params control filesystem creation
type Params struct {
	UUID             *uuid.UUID
	BlockSize        uint32
	BlocksPerGroup   uint32
	InodeCount       uint32
	LogGroupsPerFlex uint8
	// DupCount is how many copies of a data block are written for inodes
	// with duplication on; 0 means NumCopies
	DupCount   uint8
	VolumeName string
}

// FileSystem implements a filesystem whose inodes map logical blocks to
// duplicated physical blocks through per-inode block-mapping trees
type FileSystem struct {
	superblock       *superblock
	groupDescriptors *groupDescriptors
	blockBitmaps     []*bitmap
	inodeBitmaps     []*bitmap
	size             int64
	start            int64
	file             util.File
}

// Equal compare if two filesystems are equal
func (fs *FileSystem) Equal(a *FileSystem) bool {
	localMatch := fs.file == a.file
	sbMatch := fs.superblock.equal(a.superblock)
	gdMatch := fs.groupDescriptors.equal(a.groupDescriptors)
	return localMatch && sbMatch && gdMatch
}

// Type returns the type code for the filesystem. Always returns
// filesystem.TypeBmpt
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypeBmpt
}

// Create creates a bmpt filesystem in a given file or device.
//
// requires the util.File where to create the filesystem, size is the size
// of the filesystem in bytes, start is how far in bytes from the beginning
// of the util.File to create the filesystem. Geometry and feature choices
// come from Params; zero values pick defaults.
func Create(f util.File, size, start int64, p Params) (*FileSystem, error) {
	if size < BmptMinSize {
		return nil, fmt.Errorf("requested size is smaller than minimum allowed %d", BmptMinSize)
	}

	blocksize := p.BlockSize
	if blocksize == 0 {
		blocksize = DefaultBlockSize
	}
	switch blocksize {
	case 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("invalid block size %d, must be 1024, 2048 or 4096", blocksize)
	}

	numblocks := uint32(size / int64(blocksize))

	var firstDataBlock uint32
	if blocksize == 1024 {
		firstDataBlock = 1
	}

	blocksPerGroup := p.BlocksPerGroup
	switch {
	case blocksPerGroup == 0:
		blocksPerGroup = blocksize * 8
	case blocksPerGroup%8 != 0:
		return nil, fmt.Errorf("invalid number of blocks per group %d, must be divisible by 8", blocksPerGroup)
	case blocksPerGroup > blocksize*8:
		return nil, fmt.Errorf("invalid number of blocks per group %d, must be no larger than 8*blocksize %d", blocksPerGroup, blocksize*8)
	}

	groups := (numblocks - firstDataBlock + blocksPerGroup - 1) / blocksPerGroup
	if groups == 0 {
		return nil, fmt.Errorf("size %d leaves no complete block group", size)
	}

	inodesPerBlock := blocksize / uint32(inodeSize)
	inodeCount := p.InodeCount
	if inodeCount == 0 {
		inodeCount = uint32(size / DefaultInodeRatio)
	}
	if inodeCount < firstNonReservedInode+inodesPerBlock {
		inodeCount = firstNonReservedInode + inodesPerBlock
	}
	inodesPerGroup := (inodeCount + groups - 1) / groups
	// round up to a whole number of inode table blocks
	inodesPerGroup = (inodesPerGroup + inodesPerBlock - 1) / inodesPerBlock * inodesPerBlock
	inodeCount = inodesPerGroup * groups

	dupCnt := p.DupCount
	if dupCnt == 0 {
		dupCnt = NumCopies
	}
	if dupCnt > NumCopies {
		return nil, fmt.Errorf("invalid duplication count %d, maximum is %d", dupCnt, NumCopies)
	}

	fsuuid := p.UUID
	if fsuuid == nil {
		fsuuid2 := uuid.NewV4()
		fsuuid = &fsuuid2
	}

	volumeName := p.VolumeName
	if volumeName == "" {
		volumeName = DefaultVolumeName
	}

	gdtBlocks := (groups*uint32(groupDescriptorSize) + blocksize - 1) / blocksize
	inodeTableBlocks := (inodesPerGroup*uint32(inodeSize) + blocksize - 1) / blocksize

	// on-disk timestamps carry whole seconds only
	now := time.Unix(time.Now().Unix(), 0)
	sb := superblock{
		inodeCount:            inodeCount,
		blockCount:            numblocks,
		freeInodes:            inodeCount - (firstNonReservedInode - 1),
		firstDataBlock:        firstDataBlock,
		blockSize:             blocksize,
		blocksPerGroup:        blocksPerGroup,
		inodesPerGroup:        inodesPerGroup,
		mountTime:             now,
		writeTime:             now,
		filesystemState:       fsStateCleanlyUnmounted,
		errorBehaviour:        errorsContinue,
		lastCheck:             now,
		creatorOS:             osLinux,
		revisionLevel:         1,
		firstNonReservedInode: firstNonReservedInode,
		inodeSize:             uint16(inodeSize),
		featureIncompat:       featureIncompatBmptMapping,
		uuid:                  *fsuuid,
		volumeLabel:           volumeName,
		logGroupsPerFlex:      p.LogGroupsPerFlex,
		dupinodeDupCnt:        dupCnt,
	}

	fs := &FileSystem{
		superblock:       &sb,
		groupDescriptors: &groupDescriptors{},
		size:             size,
		start:            start,
		file:             f,
	}

	// lay out each group: (superblock + gdt in group 0 only,) block
	// bitmap, inode bitmap, inode table, then data blocks
	var freeBlocks uint32
	zeroBlock := make([]byte, blocksize)
	for g := uint32(0); g < groups; g++ {
		base := firstDataBlock + g*blocksPerGroup
		meta := base
		if g == 0 {
			meta += 1 + gdtBlocks
		}
		gd := groupDescriptor{
			blockBitmapLocation: meta,
			inodeBitmapLocation: meta + 1,
			inodeTableLocation:  meta + 2,
		}

		bbm := newBitmap(blocksPerGroup)
		used := meta + 2 + inodeTableBlocks - base
		for bit := uint32(0); bit < used; bit++ {
			bbm.bits.Set(uint(bit))
		}
		inGroup := blocksPerGroup
		if base+blocksPerGroup > numblocks {
			inGroup = numblocks - base
		}
		gd.freeBlocks = uint16(inGroup - used)
		freeBlocks += inGroup - used

		ibm := newBitmap(inodesPerGroup)
		gd.freeInodes = uint16(inodesPerGroup)
		if g == 0 {
			// reserved inodes live in the first group
			for bit := uint32(0); bit < firstNonReservedInode-1; bit++ {
				ibm.bits.Set(uint(bit))
			}
			gd.freeInodes -= uint16(firstNonReservedInode - 1)
		}

		fs.groupDescriptors.descriptors = append(fs.groupDescriptors.descriptors, gd)
		fs.blockBitmaps = append(fs.blockBitmaps, bbm)
		fs.inodeBitmaps = append(fs.inodeBitmaps, ibm)

		// zero the inode table so stale bytes cannot read as inodes
		for blk := gd.inodeTableLocation; blk < gd.inodeTableLocation+inodeTableBlocks; blk++ {
			if err := fs.writeBlocks([]uint32{blk}, 1, zeroBlock); err != nil {
				return nil, err
			}
		}
		if err := fs.writeBlockBitmap(g); err != nil {
			return nil, err
		}
		if err := fs.writeInodeBitmap(g); err != nil {
			return nil, err
		}
	}
	sb.freeBlocks = freeBlocks

	if err := fs.writeGroupDescriptorTable(); err != nil {
		return nil, err
	}
	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}

	log.Debugf("created filesystem: %d blocks of %d bytes in %d groups", numblocks, blocksize, groups)
	return fs, nil
}

// Read reads a filesystem from a given file or device.
//
// requires the util.File where to read the filesystem, size is the size of
// the filesystem in bytes, start is how far in bytes from the beginning of
// the util.File the filesystem is expected to begin.
func Read(f util.File, size, start int64) (*FileSystem, error) {
	if size < BmptMinSize {
		return nil, fmt.Errorf("requested size is smaller than minimum allowed %d", BmptMinSize)
	}

	sbBytes := make([]byte, superblockSize)
	n, err := f.ReadAt(sbBytes, start+superblockOffset)
	if err != nil {
		return nil, fmt.Errorf("could not read superblock: %v", err)
	}
	if n < superblockSize {
		return nil, fmt.Errorf("only could read %d superblock bytes", n)
	}
	sb, err := superblockFromBytes(sbBytes)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %v", err)
	}

	fs := &FileSystem{
		superblock: sb,
		size:       size,
		start:      start,
		file:       f,
	}

	groups := sb.groupCount()
	gdtBytes := make([]byte, int(groups)*groupDescriptorSize)
	gdtOffset := start + int64(sb.firstDataBlock+1)*int64(sb.blockSize)
	n, err = f.ReadAt(gdtBytes, gdtOffset)
	if err != nil {
		return nil, fmt.Errorf("could not read group descriptor table: %v", err)
	}
	if n < len(gdtBytes) {
		return nil, fmt.Errorf("only could read %d group descriptor table bytes", n)
	}
	gds, err := groupDescriptorsFromBytes(gdtBytes, groups)
	if err != nil {
		return nil, fmt.Errorf("could not interpret group descriptor table: %v", err)
	}
	fs.groupDescriptors = gds

	buf := make([]byte, sb.blockSize)
	for g := uint32(0); g < groups; g++ {
		gd := gds.descriptors[g]
		if err := fs.readBlock(gd.blockBitmapLocation, buf); err != nil {
			return nil, err
		}
		fs.blockBitmaps = append(fs.blockBitmaps, bitmapFromBytes(buf))
		if err := fs.readBlock(gd.inodeBitmapLocation, buf); err != nil {
			return nil, err
		}
		fs.inodeBitmaps = append(fs.inodeBitmaps, bitmapFromBytes(buf))
	}

	return fs, nil
}

// readBlock reads one block into buf
func (fs *FileSystem) readBlock(blkno uint32, buf []byte) error {
	offset := fs.start + int64(blkno)*int64(fs.superblock.blockSize)
	read, err := fs.file.ReadAt(buf, offset)
	if err != nil {
		return fmt.Errorf("reading block %d: %w", blkno, err)
	}
	if read != len(buf) {
		return fmt.Errorf("read %d bytes of block %d instead of %d", read, blkno, len(buf))
	}
	return nil
}

// writeBlocks writes the same payload to the first count block numbers of
// blknos; zero entries past the first are skipped as absent copies. This
// is the multi-write primitive every duplicated structure goes through.
func (fs *FileSystem) writeBlocks(blknos []uint32, count int, buf []byte) error {
	for i := 0; i < count && i < len(blknos); i++ {
		if blknos[i] == 0 {
			if i == 0 {
				return fmt.Errorf("cannot write to null primary block")
			}
			continue
		}
		offset := fs.start + int64(blknos[i])*int64(fs.superblock.blockSize)
		written, err := fs.file.WriteAt(buf, offset)
		if err != nil {
			return fmt.Errorf("writing block %d: %w", blknos[i], err)
		}
		if written != len(buf) {
			return fmt.Errorf("wrote %d bytes of block %d instead of %d", written, blknos[i], len(buf))
		}
	}
	return nil
}

// writeRecordBlocks writes one payload to every copy named by a record
func (fs *FileSystem) writeRecordBlocks(rec *Record, buf []byte) error {
	return fs.writeBlocks(rec.Blocks[:], NumCopies, buf)
}

func (fs *FileSystem) writeSuperblock() error {
	b, err := fs.superblock.toBytes()
	if err != nil {
		return fmt.Errorf("could not convert superblock to bytes: %v", err)
	}
	written, err := fs.file.WriteAt(b, fs.start+superblockOffset)
	if err != nil {
		return fmt.Errorf("writing superblock: %w", err)
	}
	if written != len(b) {
		return fmt.Errorf("wrote %d bytes of superblock instead of %d", written, len(b))
	}
	return nil
}

func (fs *FileSystem) writeGroupDescriptorTable() error {
	b := fs.groupDescriptors.toBytes()
	offset := fs.start + int64(fs.superblock.firstDataBlock+1)*int64(fs.superblock.blockSize)
	written, err := fs.file.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("writing group descriptor table: %w", err)
	}
	if written != len(b) {
		return fmt.Errorf("wrote %d bytes of group descriptor table instead of %d", written, len(b))
	}
	return nil
}

// inodeLocation is the byte offset of the given inode's table slot
func (fs *FileSystem) inodeLocation(ino int64) (int64, error) {
	sb := fs.superblock
	if ino < 1 || ino > int64(sb.inodeCount) {
		return 0, fmt.Errorf("inode %d out of range", ino)
	}
	bg := fs.groupOfInode(ino)
	gd := fs.groupDescriptors.descriptors[bg]
	index := (ino - 1) % int64(sb.inodesPerGroup)
	return fs.start + int64(gd.inodeTableLocation)*int64(sb.blockSize) + index*int64(inodeSize), nil
}

// ReadInode read a single inode from disk
func (fs *FileSystem) ReadInode(ino int64) (*Inode, error) {
	offset, err := fs.inodeLocation(ino)
	if err != nil {
		return nil, err
	}
	b := make([]byte, inodeSize)
	read, err := fs.file.ReadAt(b, offset)
	if err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", ino, err)
	}
	if read != inodeSize {
		return nil, fmt.Errorf("read %d bytes for inode %d instead of %d", read, ino, inodeSize)
	}
	return inodeFromBytes(b, fs.superblock, ino)
}

// WriteInode write a single inode to disk
func (fs *FileSystem) WriteInode(in *Inode) error {
	offset, err := fs.inodeLocation(in.number)
	if err != nil {
		return err
	}
	b := in.toBytes(fs.superblock)
	written, err := fs.file.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("writing inode %d: %w", in.number, err)
	}
	if written != inodeSize {
		return fmt.Errorf("wrote %d bytes for inode %d instead of %d", written, in.number, inodeSize)
	}
	return nil
}

// NewInode allocates a fresh inode with tree mapping enabled, initializes
// its tree headers and persists it. dir selects a directory inode, dupOn
// turns on data-block duplication.
func (fs *FileSystem) NewInode(dir, dupOn bool) (*Inode, error) {
	ino, err := fs.allocInode()
	if err != nil {
		return nil, err
	}
	ft := fileTypeRegularFile
	if dir {
		ft = fileTypeDirectory
	}
	now := uint32(time.Now().Unix())
	in := &Inode{
		number:           ino,
		fileType:         ft,
		permission:       0700,
		linkCount:        1,
		accessTime:       now,
		changeTime:       now,
		modificationTime: now,
	}
	in.flags.bmptMapping = true
	in.flags.dupData = dupOn
	if err := fs.InitTree(in, dupOn); err != nil {
		return nil, err
	}
	return in, nil
}

// InitTree writes two fresh, empty tree headers into the inode's
// block-pointer region and persists the inode. The second header is
// reserved; it starts out as an independent empty tree and is preserved
// untouched by every other operation.
func (fs *FileSystem) InitTree(in *Inode, dupOn bool) error {
	in.flags.dupData = dupOn
	h := freshHeader(dupOn)
	h.toBytes(in.blockData[:headerSize])
	h2 := freshHeader(dupOn)
	h2.toBytes(in.blockData[headerSize : 2*headerSize])
	return fs.WriteInode(in)
}

func freshHeader(dupOn bool) header {
	h := header{magic: headerMagic}
	if dupOn {
		h.flags |= headerFlagDup
	}
	return h
}
