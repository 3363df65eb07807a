package bmpt

import (
	"errors"
	"fmt"
	"io"
)

// File represents a single file in a bmpt filesystem. Every block access
// resolves through the inode's mapping tree; holes read as zeros.
type File struct {
	fs          *FileSystem
	inode       *Inode
	isReadWrite bool
	offset      int64
}

// OpenInode returns a File over the given inode number
func (fs *FileSystem) OpenInode(ino int64, readWrite bool) (*File, error) {
	in, err := fs.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	if in.IsDir() {
		return nil, fmt.Errorf("cannot open directory inode %d as file", ino)
	}
	return &File{
		fs:          fs,
		inode:       in,
		isReadWrite: readWrite,
	}, nil
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF.
// reads from the last known offset in the file from last read or write
// use Seek() to set at a particular point
func (fl *File) Read(b []byte) (int, error) {
	size := int64(fl.inode.size)
	if fl.offset >= size {
		return 0, io.EOF
	}
	blockSize := int64(fl.fs.superblock.blockSize)
	remaining := size - fl.offset
	if int64(len(b)) < remaining {
		remaining = int64(len(b))
	}

	buf := make([]byte, blockSize)
	read := int64(0)
	for read < remaining {
		blockNum := uint32((fl.offset + read) / blockSize)
		within := (fl.offset + read) % blockSize
		chunk := blockSize - within
		if chunk > remaining-read {
			chunk = remaining - read
		}
		var rec Record
		if _, err := fl.fs.Map(fl.inode, MapRead, blockNum, &rec); err != nil {
			return int(read), err
		}
		target := b[read : read+chunk]
		if rec.IsNull() {
			for i := range target {
				target[i] = 0
			}
		} else {
			if err := fl.fs.readBlock(rec.Blocks[0], buf); err != nil {
				return int(read), err
			}
			copy(target, buf[within:within+chunk])
		}
		read += chunk
	}
	fl.offset += read
	return int(read), nil
}

// Write writes len(p) bytes to the File, allocating blocks through the
// mapping tree as needed and extending the file size past the last byte
// written. It returns the number of bytes written and an error, if any.
func (fl *File) Write(p []byte) (int, error) {
	if !fl.isReadWrite {
		return 0, errors.New("file is not open for writing")
	}
	blockSize := int64(fl.fs.superblock.blockSize)
	buf := make([]byte, blockSize)
	written := int64(0)
	for written < int64(len(p)) {
		blockNum := uint32((fl.offset + written) / blockSize)
		within := (fl.offset + written) % blockSize
		chunk := blockSize - within
		if chunk > int64(len(p))-written {
			chunk = int64(len(p)) - written
		}
		var rec Record
		if _, err := fl.fs.Map(fl.inode, MapAlloc, blockNum, &rec); err != nil {
			return int(written), err
		}
		if chunk < blockSize {
			// partial block, read-modify-write
			if err := fl.fs.readBlock(rec.Blocks[0], buf); err != nil {
				return int(written), err
			}
		}
		copy(buf[within:], p[written:written+chunk])
		if err := fl.fs.writeRecordBlocks(&rec, buf); err != nil {
			return int(written), err
		}
		written += chunk
	}
	fl.offset += written
	if fl.offset > int64(fl.inode.size) {
		fl.inode.size = uint32(fl.offset)
	}
	if err := fl.fs.WriteInode(fl.inode); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.inode.size) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

func (fl *File) Close() error {
	return nil
}
