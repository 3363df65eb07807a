package bmpt

import (
	"encoding/binary"
	"fmt"
)

const groupDescriptorSize int = 32

// groupDescriptor is the descriptor for a single block group
type groupDescriptor struct {
	blockBitmapLocation uint32
	inodeBitmapLocation uint32
	inodeTableLocation  uint32
	freeBlocks          uint16
	freeInodes          uint16
	usedDirectories     uint16
}

// groupDescriptors is a structure holding all of the group descriptors
// for all of the block groups
type groupDescriptors struct {
	descriptors []groupDescriptor
}

func (gds *groupDescriptors) equal(a *groupDescriptors) bool {
	if (gds == nil && a != nil) || (a == nil && gds != nil) {
		return false
	}
	if gds == nil && a == nil {
		return true
	}
	if len(gds.descriptors) != len(a.descriptors) {
		return false
	}
	for i, gd := range gds.descriptors {
		if gd != a.descriptors[i] {
			return false
		}
	}
	return true
}

// groupDescriptorsFromBytes create a groupDescriptors struct from bytes
func groupDescriptorsFromBytes(b []byte, count uint32) (*groupDescriptors, error) {
	expected := int(count) * groupDescriptorSize
	if len(b) < expected {
		return nil, fmt.Errorf("group descriptor table requires %d bytes for %d groups, received %d", expected, count, len(b))
	}
	descriptors := make([]groupDescriptor, 0, count)
	for i := 0; i < int(count); i++ {
		descriptors = append(descriptors, groupDescriptorFromBytes(b[i*groupDescriptorSize:(i+1)*groupDescriptorSize]))
	}
	return &groupDescriptors{descriptors: descriptors}, nil
}

// toBytes returns a group descriptor table ready to be written to disk
func (gds *groupDescriptors) toBytes() []byte {
	b := make([]byte, len(gds.descriptors)*groupDescriptorSize)
	for i := range gds.descriptors {
		gds.descriptors[i].toBytes(b[i*groupDescriptorSize : (i+1)*groupDescriptorSize])
	}
	return b
}

func groupDescriptorFromBytes(b []byte) groupDescriptor {
	return groupDescriptor{
		blockBitmapLocation: binary.LittleEndian.Uint32(b[0x0:0x4]),
		inodeBitmapLocation: binary.LittleEndian.Uint32(b[0x4:0x8]),
		inodeTableLocation:  binary.LittleEndian.Uint32(b[0x8:0xc]),
		freeBlocks:          binary.LittleEndian.Uint16(b[0xc:0xe]),
		freeInodes:          binary.LittleEndian.Uint16(b[0xe:0x10]),
		usedDirectories:     binary.LittleEndian.Uint16(b[0x10:0x12]),
	}
}

func (gd *groupDescriptor) toBytes(b []byte) {
	binary.LittleEndian.PutUint32(b[0x0:0x4], gd.blockBitmapLocation)
	binary.LittleEndian.PutUint32(b[0x4:0x8], gd.inodeBitmapLocation)
	binary.LittleEndian.PutUint32(b[0x8:0xc], gd.inodeTableLocation)
	binary.LittleEndian.PutUint16(b[0xc:0xe], gd.freeBlocks)
	binary.LittleEndian.PutUint16(b[0xe:0x10], gd.freeInodes)
	binary.LittleEndian.PutUint16(b[0x10:0x12], gd.usedDirectories)
}
