package btree

import "blockfs/errs"

// memStorage is a pure in-memory Storage used by this package's tests —
// no disk, allocator or I/O context involved, just a map of nodes keyed
// by LBA, handed out from 1 upward (0 stays reserved as the "no node" sentinel,
// matching spec.md section 4.5).
type memStorage struct {
	fanout uint32
	nodes  map[uint64]*node
	next   uint64
}

func newMemStorage(fanout uint32) *memStorage {
	return &memStorage{fanout: fanout, nodes: map[uint64]*node{}, next: 1}
}

func (s *memStorage) BlockSize() int { return 4096 }
func (s *memStorage) Fanout() uint32 { return s.fanout }

func (s *memStorage) AllocateNode() (uint64, error) {
	lba := s.next
	s.next++
	return lba, nil
}

func (s *memStorage) FreeNode(lba uint64) error {
	delete(s.nodes, lba)
	return nil
}

func (s *memStorage) ReadNode(lba uint64) (*node, error) {
	n, ok := s.nodes[lba]
	if !ok {
		return nil, errs.New("memStorage.ReadNode", errs.BadLBA)
	}
	return n, nil
}

func (s *memStorage) WriteNode(lba uint64, n *node) error {
	s.nodes[lba] = n
	return nil
}
