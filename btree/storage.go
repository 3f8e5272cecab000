package btree

import (
	"blockfs/allocator"
	"blockfs/ioctx"
)

// Storage abstracts where B+-tree nodes live, per the storage trait
// spec.md section 9 describes: node_size, read_node, write_node,
// allocate_node, free_node. The canonical composition (IOStorage below)
// delegates to the I/O Context and Block Allocator; tests may supply a
// pure in-memory Storage instead.
type Storage interface {
	BlockSize() int
	Fanout() uint32
	AllocateNode() (uint64, error)
	FreeNode(lba uint64) error
	ReadNode(lba uint64) (*node, error)
	WriteNode(lba uint64, n *node) error
}

// IOStorage is the production Storage: nodes are disk blocks allocated
// through alloc and read/written through io's block cache.
type IOStorage struct {
	io    *ioctx.Context
	alloc *allocator.Allocator
}

func NewIOStorage(io *ioctx.Context, alloc *allocator.Allocator) *IOStorage {
	return &IOStorage{io: io, alloc: alloc}
}

func (s *IOStorage) BlockSize() int { return s.io.Disk().BlockSize() }

// Fanout reads M from the context's current superblock on every call,
// so an IOStorage can be built before any superblock is read or formatted.
func (s *IOStorage) Fanout() uint32 { return s.io.Super().Fanout }

func (s *IOStorage) AllocateNode() (uint64, error) {
	return s.alloc.AllocateBlock()
}

func (s *IOStorage) FreeNode(lba uint64) error {
	if err := s.alloc.FreeBlock(lba); err != nil {
		return err
	}
	s.io.Forget(int64(lba))
	return nil
}

func (s *IOStorage) ReadNode(lba uint64) (*node, error) {
	h, err := s.io.ReadBlock(int64(lba))
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return decodeNode(h.Value(), s.Fanout()), nil
}

func (s *IOStorage) WriteNode(lba uint64, n *node) error {
	h, err := s.io.AcquireBlock(int64(lba))
	if err != nil {
		return err
	}
	h.Set(encodeNode(n, s.BlockSize(), s.Fanout()))
	h.Release()
	return nil
}
