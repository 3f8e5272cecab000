// Package allocator implements the bitmap-backed block allocator of
// spec.md section 4.4: reset_bitmap, allocate_block (linear first-fit),
// free_block, mutating bitmap blocks through the I/O context's cache.
//
// Grounded on HULER-cloud-SimLinuxFileSystem's zmap.go (Get_Free_Block's
// byte-then-bit scan, Free_Certain_Block's clear-bit-and-increment-
// free-count shape), adapted off a package-global in-memory bitmap
// slice flushed by a separate Write_ZMap call onto bitmap bytes read and
// written through ioctx.Context's cache, one bitmap block at a time, so
// eviction/write-back is handled uniformly with every other block.
package allocator

import (
	"github.com/sirupsen/logrus"

	"blockfs/bitmap"
	"blockfs/errs"
	"blockfs/ioctx"
)

// Allocator manages the block bitmap region described by the context's
// superblock.
type Allocator struct {
	io  *ioctx.Context
	log *logrus.Logger
}

func New(io *ioctx.Context, log *logrus.Logger) *Allocator {
	return &Allocator{io: io, log: log}
}

// validBitsForBitmapBlock returns how many of a bitmap block's
// BitsPerBlock bits actually correspond to a physical block (the last
// bitmap block may be only partly used when TotalBlocks isn't a
// multiple of BitsPerBlock).
func validBitsForBitmapBlock(blockIdx, bitsPerBlock, totalBlocks uint64) uint64 {
	start := blockIdx * bitsPerBlock
	if start >= totalBlocks {
		return 0
	}
	if start+bitsPerBlock > totalBlocks {
		return totalBlocks - start
	}
	return bitsPerBlock
}

// ResetBitmap writes the initial block bitmap: a prefix of 1-bits
// covering exactly BasicBlocksCnt() blocks (superblock + bitmap +
// inode-bitmap + inode table), the rest zero. Bit 0 (LBA 0) is always
// part of that prefix, so it is never handed out by AllocateBlock.
func (a *Allocator) ResetBitmap() error {
	sb := a.io.Super()
	bitsPerBlock := uint64(sb.BitsPerBlock)
	basic := sb.BasicBlocksCnt()

	for i := uint64(0); i < sb.BitmapCount; i++ {
		lba := int64(sb.BitmapStart) + int64(i)
		h, err := a.io.AcquireBlock(lba)
		if err != nil {
			return err
		}
		buf := h.Value()
		startBit := i * bitsPerBlock
		var prefixInThisBlock uint64
		if basic > startBit {
			prefixInThisBlock = basic - startBit
			if prefixInThisBlock > bitsPerBlock {
				prefixInThisBlock = bitsPerBlock
			}
		}
		bitmap.FillPrefix(buf, prefixInThisBlock)
		h.Release()
	}
	return nil
}

// AllocateBlock performs the linear first-fit scan of spec.md section
// 4.4 and returns the allocated LBA. Returns an OutOfSpace error if no
// bit is free.
func (a *Allocator) AllocateBlock() (uint64, error) {
	sb := a.io.Super()
	bitsPerBlock := uint64(sb.BitsPerBlock)

	for i := uint64(0); i < sb.BitmapCount; i++ {
		valid := validBitsForBitmapBlock(i, bitsPerBlock, sb.TotalBlocks)
		if valid == 0 {
			continue
		}
		lba := int64(sb.BitmapStart) + int64(i)
		h, err := a.io.AcquireBlock(lba)
		if err != nil {
			return 0, err
		}
		buf := h.Value()
		idx, ok := bitmap.FirstZero(buf, valid)
		if !ok {
			h.Release()
			continue
		}
		bitmap.Set(buf, idx)
		h.Release()

		sb.FreeBlocks--
		result := i*bitsPerBlock + idx
		a.log.WithFields(logrus.Fields{"lba": result}).Debug("allocator: block allocated")
		return result, nil
	}
	a.log.Warn("allocator: out of space")
	return 0, errs.New("allocator.AllocateBlock", errs.OutOfSpace)
}

// FreeBlock clears the bit for lba and increments FreeBlocks. Callers
// must not double-free (spec.md section 4.4 does not require
// idempotence).
func (a *Allocator) FreeBlock(lba uint64) error {
	sb := a.io.Super()
	bitsPerBlock := uint64(sb.BitsPerBlock)
	blockIdx := lba / bitsPerBlock
	bitIdx := lba % bitsPerBlock

	h, err := a.io.AcquireBlock(int64(sb.BitmapStart) + int64(blockIdx))
	if err != nil {
		return err
	}
	bitmap.Clear(h.Value(), bitIdx)
	h.Release()

	sb.FreeBlocks++
	a.log.WithFields(logrus.Fields{"lba": lba}).Debug("allocator: block freed")
	return nil
}

// FreeBlocksCount recomputes the popcount of zero bits across the whole
// bitmap region, used to check the invariant in spec.md section 8
// (free_blocks == count(zero bits in valid range)).
func (a *Allocator) FreeBlocksCount() (uint64, error) {
	sb := a.io.Super()
	bitsPerBlock := uint64(sb.BitsPerBlock)
	var total uint64
	for i := uint64(0); i < sb.BitmapCount; i++ {
		valid := validBitsForBitmapBlock(i, bitsPerBlock, sb.TotalBlocks)
		if valid == 0 {
			continue
		}
		h, err := a.io.ReadBlock(int64(sb.BitmapStart) + int64(i))
		if err != nil {
			return 0, err
		}
		total += bitmap.CountZeros(h.Value(), valid)
		h.Release()
	}
	return total, nil
}
