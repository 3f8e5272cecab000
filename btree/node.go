// Package btree implements the persistent B+-tree block indexer of
// spec.md section 4.5: uint64 logical-block-index keys mapped to uint64
// physical LBAs, nodes occupying full disk blocks and allocated through
// a pluggable Storage (node_size, read_node, write_node, allocate_node,
// free_node). Storage has no free_val hook: the tree never frees leaf
// values itself.
//
// No pack repo implements a B+-tree; the node field names (is_leaf,
// key_cnt, next_leaf) and the split/insert algorithm follow spec.md
// section 4.5 directly.
package btree

import (
	"encoding/binary"
	"sort"
)

// node is the in-memory decoding of one B+-tree block.
type node struct {
	isLeaf   bool
	keyCnt   uint32
	nextLeaf uint64
	keys     []uint64 // capacity fanout-1
	vals     []uint64 // capacity fanout (internal: child ptrs, leaf: values)
}

func newNode(isLeaf bool, fanout uint32) *node {
	return &node{
		isLeaf: isLeaf,
		keys:   make([]uint64, fanout-1),
		vals:   make([]uint64, fanout),
	}
}

func (n *node) full(fanout uint32) bool { return n.keyCnt == fanout-1 }

// encodeNode serializes n into a block-sized buffer:
// [isLeaf(1)][keyCnt(4)][nextLeaf(8)][keys...][vals...].
func encodeNode(n *node, blockSize int, fanout uint32) []byte {
	buf := make([]byte, blockSize)
	if n.isLeaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], n.keyCnt)
	binary.LittleEndian.PutUint64(buf[5:13], n.nextLeaf)

	off := 13
	for i := uint32(0); i < fanout-1; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.keys[i])
		off += 8
	}
	for i := uint32(0); i < fanout; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.vals[i])
		off += 8
	}
	return buf
}

func decodeNode(buf []byte, fanout uint32) *node {
	n := newNode(buf[0] == 1, fanout)
	n.keyCnt = binary.LittleEndian.Uint32(buf[1:5])
	n.nextLeaf = binary.LittleEndian.Uint64(buf[5:13])

	off := 13
	for i := uint32(0); i < fanout-1; i++ {
		n.keys[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	for i := uint32(0); i < fanout; i++ {
		n.vals[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	return n
}

// upperBound returns the first index i in keys[:n] such that keys[i] >
// key (i.e. the count of keys <= key) — used both to pick the child
// index at an internal node and to find the insertion point in a leaf.
func upperBound(keys []uint64, n uint32, key uint64) int {
	return sort.Search(int(n), func(i int) bool { return keys[i] > key })
}

// lowerBound returns the first index i in keys[:n] such that keys[i] >=
// key.
func lowerBound(keys []uint64, n uint32, key uint64) int {
	return sort.Search(int(n), func(i int) bool { return keys[i] >= key })
}

func insertKeyAt(keys []uint64, n uint32, idx int, key uint64) {
	copy(keys[idx+1:n+1], keys[idx:n])
	keys[idx] = key
}

func insertValAt(vals []uint64, n uint32, idx int, val uint64) {
	copy(vals[idx+1:n+1], vals[idx:n])
	vals[idx] = val
}
