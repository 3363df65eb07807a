package bmpt

import (
	"encoding/binary"
)

const (
	// NumCopies is the number of physical copy slots in every tree record
	NumCopies = 3

	recordSize     int = 16
	recordSizeBits int = 4

	headerMagic uint32 = 0xf5e5c5d5
	headerSize  int    = 12 + recordSize

	headerFlagDup uint32 = 0x00000001
)

// Record is the in-memory, host-byte-order form of a single tree record:
// up to NumCopies physical block numbers holding the same payload, plus a
// flags word. A record is null iff its primary copy is zero; non-primary
// slots may be zero while the primary is not, meaning the copy is absent.
type Record struct {
	Blocks [NumCopies]uint32
	Flags  uint32
}

// IsNull reports whether the record maps nothing. Only the primary copy
// slot decides.
func (r *Record) IsNull() bool {
	return r.Blocks[0] == 0
}

// Clear zeroes every copy slot and the flags
func (r *Record) Clear() {
	for i := 0; i < NumCopies; i++ {
		r.Blocks[i] = 0
	}
	r.Flags = 0
}

func (r *Record) equal(a *Record) bool {
	if (r == nil && a != nil) || (a == nil && r != nil) {
		return false
	}
	if r == nil && a == nil {
		return true
	}
	return *r == *a
}

// recordFromBytes decodes the on-disk little-endian form of a record
func recordFromBytes(b []byte) Record {
	var r Record
	for i := 0; i < NumCopies; i++ {
		r.Blocks[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	r.Flags = binary.LittleEndian.Uint32(b[12:16])
	return r
}

// toBytes encodes the record into its on-disk little-endian form, written
// into the first recordSize bytes of b
func (r *Record) toBytes(b []byte) {
	for i := 0; i < NumCopies; i++ {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], r.Blocks[i])
	}
	binary.LittleEndian.PutUint32(b[12:16], r.Flags)
}

// recordAt decodes the record at index idx of an indirection block
func recordAt(b []byte, idx int) Record {
	return recordFromBytes(b[idx*recordSize:])
}

// setRecordAt encodes rec at index idx of an indirection block
func setRecordAt(b []byte, idx int, rec *Record) {
	rec.toBytes(b[idx*recordSize:])
}

// header is the in-memory view of a tree header. On disk it occupies the
// first headerSize bytes of an inode's block-pointer region; a second,
// reserved header of the same form follows immediately and is preserved
// verbatim by every operation.
type header struct {
	magic  uint32
	levels uint32
	flags  uint32
	root   Record
}

func headerFromBytes(b []byte) header {
	return header{
		magic:  binary.LittleEndian.Uint32(b[0:4]),
		levels: binary.LittleEndian.Uint32(b[4:8]),
		flags:  binary.LittleEndian.Uint32(b[8:12]),
		root:   recordFromBytes(b[12 : 12+recordSize]),
	}
}

func (h *header) toBytes(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.magic)
	binary.LittleEndian.PutUint32(b[4:8], h.levels)
	binary.LittleEndian.PutUint32(b[8:12], h.flags)
	h.root.toBytes(b[12 : 12+recordSize])
}

// valid reports whether the header carries the tree magic, i.e. whether a
// tree exists at all
func (h *header) valid() bool {
	return h.magic == headerMagic
}

// dup reports whether data blocks written through this tree are duplicated
func (h *header) dup() bool {
	return h.flags&headerFlagDup == headerFlagDup
}
