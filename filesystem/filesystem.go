package filesystem

import "io"

// Type is the type of filesystem
type Type int

const (
	// TypeBmpt is a block-mapping-tree filesystem
	TypeBmpt Type = iota
)

// File is a single file in a filesystem
type File interface {
	io.ReadWriteSeeker
	io.Closer
}
