// Package ioctx implements the I/O Context of spec.md section 4.3: it
// owns the Superblock and the block cache, and is the only component
// that ever reads or writes LBA 0 directly (the superblock is not
// routed through the cache — it has a dedicated in-memory
// representation, kept up to date by every mutator and persisted
// explicitly).
package ioctx

import (
	"github.com/sirupsen/logrus"

	"blockfs/cache"
	"blockfs/disk"
	"blockfs/errs"
	"blockfs/superblock"
)

// blockBackend adapts a disk.Disk to cache.Backend[int64, []byte]: the
// concrete block-cache backend from spec.md section 4.2 — load(lba)
// reads the block (or returns a zero buffer for the lba==0 sentinel),
// save(lba, buf) writes through but is a no-op for lba==0.
type blockBackend struct {
	d disk.Disk
}

func (b blockBackend) Load(lba int64) ([]byte, error) {
	buf := make([]byte, b.d.BlockSize())
	if lba == 0 {
		return buf, nil
	}
	if err := b.d.ReadBlock(lba, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b blockBackend) Save(lba int64, buf []byte) error {
	if lba == 0 {
		return nil
	}
	return b.d.WriteBlock(lba, buf)
}

// Context wraps a Disk and its block cache, and owns the in-memory
// Superblock.
type Context struct {
	d     disk.Disk
	cache *cache.LRU[int64, []byte]
	super *superblock.SuperBlock
	log   *logrus.Logger
}

// New constructs a Context over d with the given block-cache capacity.
// It does not read the superblock; call ReadSuperBlock (or Format,
// handled one layer up) before using the context.
func New(d disk.Disk, cacheCapacity int, log *logrus.Logger) *Context {
	bc := cache.New[int64, []byte](cacheCapacity, blockBackend{d: d}, log, "block-cache")
	return &Context{d: d, cache: bc, log: log}
}

func (c *Context) Disk() disk.Disk { return c.d }

// Super returns the in-memory superblock. It panics (a programmer-error
// Fatal, per spec.md section 4.7) if no superblock has been loaded yet.
func (c *Context) Super() *superblock.SuperBlock {
	if c.super == nil {
		errs.Abort("ioctx.Super", errs.New("ioctx.Super", errs.Corruption))
	}
	return c.super
}

// SetSuper installs a freshly derived or just-read superblock as the
// context's in-memory copy.
func (c *Context) SetSuper(s *superblock.SuperBlock) { c.super = s }

// ReadSuperBlock reads LBA 0 directly (bypassing the cache) and
// installs it as the in-memory superblock. Returns Corruption if the
// magic/version don't match — the caller (vfs.FileSystem.Open) treats
// that as a signal the disk needs formatting, not a fatal error.
func (c *Context) ReadSuperBlock() (*superblock.SuperBlock, error) {
	buf := make([]byte, c.d.BlockSize())
	if err := c.d.ReadBlock(0, buf); err != nil {
		return nil, err
	}
	s, err := superblock.Decode(buf)
	if err != nil {
		return nil, err
	}
	if !s.Valid() {
		return nil, errs.New("ioctx.ReadSuperBlock", errs.Corruption)
	}
	c.super = s
	return s, nil
}

// FlushSuperBlock writes the in-memory superblock to LBA 0 directly,
// bypassing the cache.
func (c *Context) FlushSuperBlock() error {
	buf, err := c.Super().Encode(c.d.BlockSize())
	if err != nil {
		return err
	}
	return c.d.WriteBlock(0, buf)
}

// ReadBlock returns a shared read handle for lba, routed through the
// block cache.
func (c *Context) ReadBlock(lba int64) (*cache.Shared[[]byte], error) {
	if lba == 0 {
		errs.Abort("ioctx.ReadBlock", errs.New("ioctx.ReadBlock", errs.BadLBA))
	}
	return c.cache.Get(lba)
}

// AcquireBlock returns an exclusive write handle for lba, routed
// through the block cache. The entry is marked dirty immediately.
func (c *Context) AcquireBlock(lba int64) (*cache.Exclusive[[]byte], error) {
	if lba == 0 {
		errs.Abort("ioctx.AcquireBlock", errs.New("ioctx.AcquireBlock", errs.BadLBA))
	}
	return c.cache.GetMut(lba)
}

// FlushAll writes back every dirty cached block.
func (c *Context) FlushAll() error {
	return c.cache.FlushAll()
}

// Clear clears the block cache and the underlying disk, and forgets any
// loaded superblock (a fresh ReadSuperBlock or Format is required
// afterwards).
func (c *Context) Clear() error {
	if err := c.cache.Clear(); err != nil {
		return err
	}
	if err := c.d.Clear(); err != nil {
		return err
	}
	c.super = nil
	return nil
}

// Forget drops lba from the block cache without flushing it — used
// after a block is freed, so a stale dirty copy can never be written
// back over data that has since been reused for something else.
func (c *Context) Forget(lba int64) {
	c.cache.Remove(lba)
}
