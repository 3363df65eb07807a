package bmpt

import (
	"errors"
	"io"
	"testing"

	"github.com/diskfs/bmptfs/util"
)

// memFile is an in-memory util.File backing a test filesystem
type memFile struct {
	data []byte
}

func newMemFile(size int64) *memFile {
	return &memFile{data: make([]byte, size)}
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(f.data)) {
		return 0, errors.New("write past end of device")
	}
	return copy(f.data[off:], p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	return offset, nil
}

// snapshot returns a copy of the current device content
func (f *memFile) snapshot() []byte {
	return append([]byte(nil), f.data...)
}

// faultFile wraps a util.File and fails writes to chosen blocks, for
// exercising the failure-atomicity of the mapping engine
type faultFile struct {
	inner      util.File
	blockSize  int64
	failBlocks map[uint32]bool
	writeErr   error
}

func newFaultFile(inner util.File, blockSize int64) *faultFile {
	return &faultFile{
		inner:      inner,
		blockSize:  blockSize,
		failBlocks: map[uint32]bool{},
		writeErr:   errors.New("injected write failure"),
	}
}

func (f *faultFile) failBlock(blknos ...uint32) {
	for _, b := range blknos {
		if b != 0 {
			f.failBlocks[b] = true
		}
	}
}

func (f *faultFile) ReadAt(p []byte, off int64) (int, error) {
	return f.inner.ReadAt(p, off)
}

func (f *faultFile) WriteAt(p []byte, off int64) (int, error) {
	if f.failBlocks[uint32(off/f.blockSize)] {
		return 0, f.writeErr
	}
	return f.inner.WriteAt(p, off)
}

func (f *faultFile) Seek(offset int64, whence int) (int64, error) {
	return f.inner.Seek(offset, whence)
}

// testFilesystem creates a fresh single-group 8MB filesystem over an
// in-memory file, with a fault-injection wrapper left disarmed
func testFilesystem(t *testing.T, p Params) (*FileSystem, *memFile, *faultFile) {
	t.Helper()
	size := 8 * MB
	blockSize := p.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	mf := newMemFile(size)
	ff := newFaultFile(mf, int64(blockSize))
	fs, err := Create(ff, size, 0, p)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return fs, mf, ff
}

func TestCreateReadRoundTrip(t *testing.T) {
	fs, mf, _ := testFilesystem(t, Params{VolumeName: "roundtrip"})

	fs2, err := Read(mf, 8*MB, 0)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !fs.superblock.equal(fs2.superblock) {
		t.Fatalf("superblock mismatch after Read:\n%+v\n%+v", fs.superblock, fs2.superblock)
	}
	if !fs.groupDescriptors.equal(fs2.groupDescriptors) {
		t.Fatalf("group descriptors mismatch after Read")
	}
	if fs2.superblock.volumeLabel != "roundtrip" {
		t.Fatalf("wrong volume label %q", fs2.superblock.volumeLabel)
	}
}

func TestCreateMultiGroup(t *testing.T) {
	size := 2 * MB
	mf := newMemFile(size)
	fs, err := Create(mf, size, 0, Params{BlocksPerGroup: 512, LogGroupsPerFlex: 1})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got := fs.superblock.groupCount(); got != 4 {
		t.Fatalf("expected 4 block groups, got %d", got)
	}
	fs2, err := Read(mf, size, 0)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !fs.groupDescriptors.equal(fs2.groupDescriptors) {
		t.Fatalf("group descriptors mismatch after Read")
	}
	if fs2.superblock.logGroupsPerFlex != 1 {
		t.Fatalf("lost logGroupsPerFlex: %d", fs2.superblock.logGroupsPerFlex)
	}
}

func TestInodeRoundTrip(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, true)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	if in.number < int64(firstNonReservedInode) {
		t.Fatalf("allocated reserved inode %d", in.number)
	}

	in2, err := fs.ReadInode(in.number)
	if err != nil {
		t.Fatalf("ReadInode error: %v", err)
	}
	if !in.equal(in2) {
		t.Fatalf("inode mismatch after write/read:\n%+v\n%+v", in, in2)
	}
	if !in2.flags.bmptMapping || !in2.flags.dupData {
		t.Fatalf("inode flags lost: %+v", in2.flags)
	}
	hdr := in2.treeHeader()
	if !hdr.valid() || hdr.levels != 0 || !hdr.root.IsNull() || !hdr.dup() {
		t.Fatalf("unexpected fresh tree header: %+v", hdr)
	}
}

func TestSecondHeaderPreserved(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	second := append([]byte(nil), in.blockData[headerSize:2*headerSize]...)

	var rec Record
	for _, b := range []uint32{0, 1, 200, 5000} {
		if _, err := fs.Map(in, MapAlloc, b, &rec); err != nil {
			t.Fatalf("Map(alloc, %d) error: %v", b, err)
		}
	}
	if err := fs.Punch(in, 0, 200); err != nil {
		t.Fatalf("Punch error: %v", err)
	}

	in2, err := fs.ReadInode(in.number)
	if err != nil {
		t.Fatalf("ReadInode error: %v", err)
	}
	for i, c := range in2.blockData[headerSize : 2*headerSize] {
		if c != second[i] {
			t.Fatalf("second header byte %d changed from %x to %x", i, second[i], c)
		}
	}
}
