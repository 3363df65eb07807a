package util

import "io"

// File is the interface a filesystem backing store must implement. It is
// deliberately minimal: random-access reads and writes plus seeking, which
// *os.File satisfies. Filesystems never close or resize the file.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
}
