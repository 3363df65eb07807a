package bmpt

import (
	"bytes"
	"io"
	"testing"
)

func TestFileWriteRead(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	fl, err := fs.OpenInode(in.number, true)
	if err != nil {
		t.Fatalf("OpenInode error: %v", err)
	}

	// spans three blocks
	content := bytes.Repeat([]byte("block-mapping tree "), 150)
	n, err := fl.Write(content)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(content) {
		t.Fatalf("wrote %d bytes instead of %d", n, len(content))
	}

	if _, err := fl.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek error: %v", err)
	}
	got := make([]byte, len(content))
	n, err = io.ReadFull(fl, got)
	if err != nil {
		t.Fatalf("read error after %d bytes: %v", n, err)
	}
	if !bytes.Equal(content, got) {
		t.Fatalf("content mismatch after write/read")
	}
	if _, err := fl.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF at end of file, got %v", err)
	}
}

func TestFileHolesReadZero(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	fl, err := fs.OpenInode(in.number, true)
	if err != nil {
		t.Fatalf("OpenInode error: %v", err)
	}

	// write one byte far into the file, leaving holes before it
	if _, err := fl.Seek(3000, io.SeekStart); err != nil {
		t.Fatalf("Seek error: %v", err)
	}
	if _, err := fl.Write([]byte{0xaa}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if fl.inode.size != 3001 {
		t.Fatalf("expected size 3001, got %d", fl.inode.size)
	}

	if _, err := fl.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek error: %v", err)
	}
	got := make([]byte, 3001)
	if _, err := io.ReadFull(fl, got); err != nil {
		t.Fatalf("read error: %v", err)
	}
	for i := 0; i < 3000; i++ {
		if got[i] != 0 {
			t.Fatalf("hole byte %d reads as %x", i, got[i])
		}
	}
	if got[3000] != 0xaa {
		t.Fatalf("written byte reads as %x", got[3000])
	}
}

func TestFileReadOnly(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, false)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	fl, err := fs.OpenInode(in.number, false)
	if err != nil {
		t.Fatalf("OpenInode error: %v", err)
	}
	if _, err := fl.Write([]byte("nope")); err == nil {
		t.Fatalf("expected write to a read-only file to fail")
	}
}

func TestFileDuplicatedWrite(t *testing.T) {
	fs, _, _ := testFilesystem(t, Params{})
	in, err := fs.NewInode(false, true)
	if err != nil {
		t.Fatalf("NewInode error: %v", err)
	}
	fl, err := fs.OpenInode(in.number, true)
	if err != nil {
		t.Fatalf("OpenInode error: %v", err)
	}
	content := []byte("same payload on every copy")
	if _, err := fl.Write(content); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	rec := mustRead(t, fs, fl.inode, 0)
	buf := make([]byte, fs.superblock.blockSize)
	for j := 0; j < int(fs.superblock.dupinodeDupCnt); j++ {
		if rec.Blocks[j] == 0 {
			t.Fatalf("copy %d missing: %+v", j, rec)
		}
		if err := fs.readBlock(rec.Blocks[j], buf); err != nil {
			t.Fatalf("readBlock error: %v", err)
		}
		if !bytes.Equal(buf[:len(content)], content) {
			t.Fatalf("copy %d does not carry the payload", j)
		}
	}
}
