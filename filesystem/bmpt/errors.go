package bmpt

import "errors"

var (
	// ErrNotBmpt is returned when an inode does not carry the
	// block-mapping-tree flag
	ErrNotBmpt = errors.New("inode does not use block-mapping-tree mapping")
	// ErrBadHeader is returned by read-only operations when the inode's
	// block-pointer region does not hold a valid tree header
	ErrBadHeader = errors.New("invalid block-mapping-tree header")
	// ErrNoSpace is returned when the allocator has no free block left
	ErrNoSpace = errors.New("no free blocks")
	// ErrCorrupt is returned when an on-disk structure is inconsistent,
	// for example a tree deeper than maxLevels
	ErrCorrupt = errors.New("corrupt block-mapping tree")
	// ErrExpandDir is returned when a directory could not be grown
	ErrExpandDir = errors.New("could not expand directory")
)
