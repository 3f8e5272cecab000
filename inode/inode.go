// Package inode implements the inode table and per-inode storage-
// strategy state machine of spec.md section 4.6: the inode bitmap, the
// on-disk inode blocks, an LRU cache of decoded inodes with write-back,
// and directories encoded as sequences of fixed-size DirItem records
// sharing the file data path.
//
// Grounded on HULER-cloud-SimLinuxFileSystem's inode/inode.go (fixed
// inode fields: id, parent, single block pointer, size) and
// inode/dentry.go (directory-entry shape), adapted off encoding/json +
// a package-global *os.File onto binary encoding patched through the
// generic cache.LRU. HULER's inode_add_data-style branch fallthrough
// (section 9(b) of spec.md) is rebuilt here as a clean state machine.
package inode

import (
	"encoding/binary"

	"blockfs/config"
)

// FileType distinguishes a file inode from a directory inode.
type FileType uint8

const (
	File FileType = iota
	Directory
)

// StorageType is the inode's current storage strategy.
type StorageType uint8

const (
	Inline StorageType = iota
	Direct
	Index
)

// inodeHeaderSize is the fixed-width portion of an encoded Inode ahead
// of InlineData: ID + ParentID + BlockLBA (8 each) + LinkCnt (4) +
// FileType + StorageType (1 each) + Size (8).
const inodeHeaderSize = 8 + 8 + 8 + 4 + 1 + 1 + 8

// InodeDataSize is INODE_DATA_SIZE from spec.md section 3: how many
// bytes of small-file payload fit directly in an inode record.
const InodeDataSize = config.InodeSize - inodeHeaderSize

// Inode is the fixed-size on-disk inode record of spec.md section 3.
type Inode struct {
	ID          uint64
	ParentID    uint64
	BlockLBA    uint64
	LinkCnt     uint32
	FileType    FileType
	StorageType StorageType
	Size        uint64
	InlineData  []byte // always len == InodeDataSize
}

func newEmptyInode(id uint64, ft FileType) *Inode {
	return &Inode{
		ID:          id,
		FileType:    ft,
		StorageType: Inline,
		InlineData:  make([]byte, InodeDataSize),
	}
}

// encodeInode serializes n into an exactly config.InodeSize buffer.
func encodeInode(n *Inode) []byte {
	buf := make([]byte, config.InodeSize)
	binary.LittleEndian.PutUint64(buf[0:8], n.ID)
	binary.LittleEndian.PutUint64(buf[8:16], n.ParentID)
	binary.LittleEndian.PutUint64(buf[16:24], n.BlockLBA)
	binary.LittleEndian.PutUint32(buf[24:28], n.LinkCnt)
	buf[28] = byte(n.FileType)
	buf[29] = byte(n.StorageType)
	binary.LittleEndian.PutUint64(buf[30:38], n.Size)
	copy(buf[38:38+InodeDataSize], n.InlineData)
	return buf
}

func decodeInode(buf []byte) *Inode {
	n := &Inode{}
	n.ID = binary.LittleEndian.Uint64(buf[0:8])
	n.ParentID = binary.LittleEndian.Uint64(buf[8:16])
	n.BlockLBA = binary.LittleEndian.Uint64(buf[16:24])
	n.LinkCnt = binary.LittleEndian.Uint32(buf[24:28])
	n.FileType = FileType(buf[28])
	n.StorageType = StorageType(buf[29])
	n.Size = binary.LittleEndian.Uint64(buf[30:38])
	n.InlineData = append([]byte(nil), buf[38:38+InodeDataSize]...)
	return n
}
