package bmpt

import (
	"encoding/binary"
	"fmt"
)

const (
	dirEntryHeaderLength int = 8
	// actually 9 for a 1-byte name, but entries are padded to 4 bytes
	minDirEntryLength int = 12
	maxDirEntryLength int = 263
)

// directoryEntry is a single directory entry
type directoryEntry struct {
	inode     uint32
	recordLen uint16
	filename  string
	fileType  uint8
}

func directoryEntryFromBytes(b []byte) (*directoryEntry, error) {
	if len(b) < dirEntryHeaderLength {
		return nil, fmt.Errorf("directory entry of length %d is less than minimum %d", len(b), dirEntryHeaderLength)
	}
	nameLength := b[0x6]
	if dirEntryHeaderLength+int(nameLength) > len(b) {
		return nil, fmt.Errorf("directory entry name of %d bytes overruns the entry", nameLength)
	}
	de := directoryEntry{
		inode:     binary.LittleEndian.Uint32(b[0x0:0x4]),
		recordLen: binary.LittleEndian.Uint16(b[0x4:0x6]),
		fileType:  b[0x7],
		filename:  string(b[0x8 : 0x8+int(nameLength)]),
	}
	return &de, nil
}

func (de *directoryEntry) toBytes() ([]byte, error) {
	nameLength := len(de.filename)
	if nameLength > maxDirEntryLength-dirEntryHeaderLength {
		return nil, fmt.Errorf("filename %s too long for a directory entry", de.filename)
	}
	// header plus filename, rounded up to the nearest multiple of 4
	entryLength := uint16(nameLength + dirEntryHeaderLength)
	if leftover := entryLength % 4; leftover > 0 {
		entryLength += 4 - leftover
	}
	if de.recordLen > entryLength {
		entryLength = de.recordLen
	}
	b := make([]byte, entryLength)

	binary.LittleEndian.PutUint32(b[0x0:0x4], de.inode)
	binary.LittleEndian.PutUint16(b[0x4:0x6], entryLength)
	b[0x6] = uint8(nameLength)
	b[0x7] = de.fileType
	copy(b[0x8:], de.filename)

	return b, nil
}

// newDirectoryBlock builds an empty directory block: one unused entry
// spanning the whole block, ready for entries to be carved out of it
func newDirectoryBlock(blockSize int) ([]byte, error) {
	de := directoryEntry{
		inode:     0,
		recordLen: uint16(blockSize),
	}
	b, err := de.toBytes()
	if err != nil {
		return nil, err
	}
	if len(b) != blockSize {
		return nil, fmt.Errorf("built directory block of %d bytes instead of %d", len(b), blockSize)
	}
	return b, nil
}

// parseDirEntries parses one or more directory blocks into entries
func parseDirEntries(b []byte) ([]*directoryEntry, error) {
	var entries []*directoryEntry
	for i := 0; i < len(b); {
		if i+dirEntryHeaderLength > len(b) {
			return nil, fmt.Errorf("truncated directory entry at offset %d", i)
		}
		length := int(binary.LittleEndian.Uint16(b[i+0x4 : i+0x6]))
		if length < minDirEntryLength || i+length > len(b) {
			return nil, fmt.Errorf("invalid directory entry length %d at offset %d", length, i)
		}
		de, err := directoryEntryFromBytes(b[i : i+length])
		if err != nil {
			return nil, fmt.Errorf("failed to parse directory entry at offset %d: %v", i, err)
		}
		if de.inode != 0 {
			entries = append(entries, de)
		}
		i += length
	}
	return entries, nil
}
