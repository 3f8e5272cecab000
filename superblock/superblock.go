// Package superblock defines the on-disk Superblock (spec.md section 3)
// and its binary (de)serialization: one fixed-layout little-endian block
// at LBA 0.
//
// Grounded on tranvaj-ZOS2023_SP_GO/util/fs_structs.go and
// fs_commands.go's createSuperBlock, which derives every region's start
// address and size from the disk's total byte count using
// encoding/binary over a fixed-field struct — preferred here over the
// HULER teacher's encoding/json + length-prefix framing because spec.md
// fixes exact little-endian field widths that only encoding/binary over
// fixed-size fields expresses directly.
package superblock

import (
	"bytes"
	"encoding/binary"

	"blockfs/config"
	"blockfs/errs"
)

// SuperBlock mirrors spec.md section 3's field list exactly. Field order
// here is the on-disk field order.
type SuperBlock struct {
	Magic   uint32
	Version uint32

	DiskSize    uint64
	BlockSize   uint32
	TotalBlocks uint64

	BitsPerBlock uint32

	BitmapStart uint64
	BitmapCount uint64

	InodeBitmapStart uint64
	InodeBitmapCount uint64

	InodeTableStart uint64
	InodeTableCount uint64

	InodeSize      uint32
	InodesPerBlock uint32
	InodesCount    uint64

	FreeInodes uint64
	FreeBlocks uint64

	DirItemSize uint32

	RootInodeID uint64

	Fanout       uint32
	FilenameSize uint32
}

// EncodedSize is the fixed byte length of a serialized SuperBlock.
var EncodedSize = binary.Size(SuperBlock{})

// BasicBlocksCnt is the invariant from spec.md section 3:
// basic_blocks_cnt = super + bitmap + inode_bitmap + inode_table.
func (s *SuperBlock) BasicBlocksCnt() uint64 {
	return 1 + s.BitmapCount + s.InodeBitmapCount + s.InodeTableCount
}

// Valid reports whether the magic and version identify a blockfs image
// this build knows how to read (spec.md section 6).
func (s *SuperBlock) Valid() bool {
	return s.Magic == config.Magic && s.Version == config.Version
}

// Encode serializes s into a block-sized buffer (zero-padded beyond the
// encoded fields).
func (s *SuperBlock) Encode(blockSize int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		return nil, errs.Wrap("superblock.Encode", errs.IOError, err)
	}
	if buf.Len() > blockSize {
		errs.Abort("superblock.Encode", errs.New("superblock.Encode", errs.IOError))
	}
	out := make([]byte, blockSize)
	copy(out, buf.Bytes())
	return out, nil
}

// Decode parses a block-sized buffer into a SuperBlock. It never
// rejects malformed/garbage input itself — callers must check Valid()
// to decide whether the image needs reformatting (spec.md section 7:
// magic/version mismatch is Corruption, "a signal to format").
func Decode(block []byte) (*SuperBlock, error) {
	s := &SuperBlock{}
	r := bytes.NewReader(block)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, errs.Wrap("superblock.Decode", errs.IOError, err)
	}
	return s, nil
}

// Derive computes a fresh Superblock for a disk image of diskSize bytes
// with the given block size, inode size and DirItem/filename sizes
// (taken from config so every layer agrees on record widths), and the
// inode-to-data-block ratio in config.InodeRatioBlocks — a
// parameterization of spec.md section 9(c)'s "inode_blocks_cnt from disk
// size" open question rather than the teacher's fixed disk_gb ratio.
func Derive(diskSize int64, blockSize int) *SuperBlock {
	totalBlocks := uint64(diskSize) / uint64(blockSize)
	bitsPerBlock := uint32(blockSize * 8)

	inodesCount := totalBlocks / config.InodeRatioBlocks
	if inodesCount < config.MinInodes {
		inodesCount = config.MinInodes
	}
	inodesPerBlock := uint32(blockSize / config.InodeSize)

	bitmapCount := ceilDiv(totalBlocks, uint64(bitsPerBlock))
	inodeBitmapCount := ceilDiv(inodesCount, uint64(bitsPerBlock))
	inodeTableCount := ceilDiv(inodesCount, uint64(inodesPerBlock))

	s := &SuperBlock{
		Magic:       config.Magic,
		Version:     config.Version,
		DiskSize:    uint64(diskSize),
		BlockSize:   uint32(blockSize),
		TotalBlocks: totalBlocks,

		BitsPerBlock: bitsPerBlock,

		BitmapStart: 1,
		BitmapCount: bitmapCount,

		InodeBitmapStart: 1 + bitmapCount,
		InodeBitmapCount: inodeBitmapCount,

		InodeTableStart: 1 + bitmapCount + inodeBitmapCount,
		InodeTableCount: inodeTableCount,

		InodeSize:      config.InodeSize,
		InodesPerBlock: inodesPerBlock,
		InodesCount:    inodesCount,

		DirItemSize:  config.DirItemSize,
		FilenameSize: config.FilenameSize,
	}
	s.FreeInodes = s.InodesCount
	basic := s.BasicBlocksCnt()
	if totalBlocks > basic {
		s.FreeBlocks = totalBlocks - basic
	}
	s.Fanout = Fanout(blockSize)
	return s
}

// Fanout derives the B+-tree fan-out M for a given block size, per
// spec.md section 4.5: HeaderSize + (M-1)*(sizeof(key)+sizeof(val)) <=
// block_size, with HeaderSize the node header (is_leaf + key_cnt +
// next_leaf) and key/val each 8 bytes, plus one extra val slot
// (internal nodes hold M children for M-1 keys).
func Fanout(blockSize int) uint32 {
	const headerSize = 1 + 4 + 8 // IsLeaf + KeyCnt + NextLeaf
	const keySize = 8
	const valSize = 8

	m := uint32(2)
	for {
		next := m + 1
		size := headerSize + int(next-1)*keySize + int(next)*valSize
		if size > blockSize {
			break
		}
		m = next
	}
	return m
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
