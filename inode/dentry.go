package inode

import (
	"bytes"
	"encoding/binary"

	"blockfs/config"
)

// DirItem is the fixed-size on-disk directory entry of spec.md section
// 3: an inode id paired with a NUL-terminated filename. Adapted from
// HULER-cloud-SimLinuxFileSystem's Dentry (To_INode/DName) — which was
// an in-memory-only logical structure with no physical storage of its
// own — into the physically-stored fixed record spec.md calls for,
// sharing the same read_data/write_data path as ordinary file content.
type DirItem struct {
	InodeID uint64
	Name    string
}

// dirItemReservedBytes pads a DirItem record out to config.DirItemSize:
// InodeID (8) + Name (config.FilenameSize, NUL-padded).
const dirItemReservedBytes = config.DirItemSize - 8 - config.FilenameSize

func encodeDirItem(d DirItem) []byte {
	buf := make([]byte, config.DirItemSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.InodeID)
	nameBytes := []byte(d.Name)
	if len(nameBytes) > config.FilenameSize-1 {
		nameBytes = nameBytes[:config.FilenameSize-1]
	}
	copy(buf[8:8+config.FilenameSize], nameBytes)
	return buf
}

func decodeDirItem(buf []byte) DirItem {
	id := binary.LittleEndian.Uint64(buf[0:8])
	nameField := buf[8 : 8+config.FilenameSize]
	if i := bytes.IndexByte(nameField, 0); i >= 0 {
		nameField = nameField[:i]
	}
	return DirItem{InodeID: id, Name: string(nameField)}
}
