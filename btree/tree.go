package btree

import (
	"github.com/sirupsen/logrus"
)

// Tree is a persistent B+-tree over a Storage. The root is identified
// by its LBA; 0 means an empty tree (spec.md section 4.5), mirroring
// LBA 0's role elsewhere as "no block".
type Tree struct {
	storage Storage
	log     *logrus.Logger
}

func New(storage Storage, log *logrus.Logger) *Tree {
	return &Tree{storage: storage, log: log}
}

// Insert inserts (key, val) into the tree rooted at root (0 for an
// empty tree) and returns the (possibly new) root LBA. Inserting a key
// already present is a caller bug (spec.md section 4.5) and is not
// guarded against here.
func (t *Tree) Insert(root uint64, key, val uint64) (uint64, error) {
	fanout := t.storage.Fanout()

	if root == 0 {
		lba, err := t.storage.AllocateNode()
		if err != nil {
			return 0, err
		}
		leaf := newNode(true, fanout)
		leaf.keys[0] = key
		leaf.vals[0] = val
		leaf.keyCnt = 1
		if err := t.storage.WriteNode(lba, leaf); err != nil {
			return 0, err
		}
		return lba, nil
	}

	rootNode, err := t.storage.ReadNode(root)
	if err != nil {
		return 0, err
	}

	if rootNode.full(fanout) {
		newRootLBA, err := t.storage.AllocateNode()
		if err != nil {
			return 0, err
		}
		newRoot := newNode(false, fanout)
		newRoot.vals[0] = root
		newRoot.keyCnt = 0
		if err := t.storage.WriteNode(newRootLBA, newRoot); err != nil {
			return 0, err
		}
		if err := t.splitChild(newRootLBA, 0); err != nil {
			return 0, err
		}
		root = newRootLBA
	}

	if err := t.insertNonFull(root, key, val); err != nil {
		return 0, err
	}
	return root, nil
}

// splitChild splits the idx-th child of the node at parentLBA, which
// must currently be full, and lifts the separator key into the parent.
// Per spec.md section 4.5, the new node is allocated first, so an
// OutOfSpace failure here leaves the existing structure untouched.
func (t *Tree) splitChild(parentLBA uint64, idx int) error {
	fanout := t.storage.Fanout()
	mid := int(fanout-1) >> 1

	parent, err := t.storage.ReadNode(parentLBA)
	if err != nil {
		return err
	}
	childLBA := parent.vals[idx]
	child, err := t.storage.ReadNode(childLBA)
	if err != nil {
		return err
	}

	newLBA, err := t.storage.AllocateNode()
	if err != nil {
		return err
	}

	newChild := newNode(child.isLeaf, fanout)
	var sep uint64

	if child.isLeaf {
		n := copy(newChild.keys, child.keys[mid:child.keyCnt])
		copy(newChild.vals, child.vals[mid:child.keyCnt])
		newChild.keyCnt = uint32(n)
		newChild.nextLeaf = child.nextLeaf
		child.nextLeaf = newLBA
		sep = newChild.keys[0]
		child.keyCnt = uint32(mid)
	} else {
		n := copy(newChild.keys, child.keys[mid+1:child.keyCnt])
		copy(newChild.vals, child.vals[mid+1:child.keyCnt+1])
		newChild.keyCnt = uint32(n)
		sep = child.keys[mid]
		child.keyCnt = uint32(mid)
	}

	if err := t.storage.WriteNode(childLBA, child); err != nil {
		return err
	}
	if err := t.storage.WriteNode(newLBA, newChild); err != nil {
		return err
	}

	insertKeyAt(parent.keys, parent.keyCnt, idx, sep)
	insertValAt(parent.vals, parent.keyCnt+1, idx+1, newLBA)
	parent.keyCnt++
	return t.storage.WriteNode(parentLBA, parent)
}

func (t *Tree) insertNonFull(nodeLBA uint64, key, val uint64) error {
	fanout := t.storage.Fanout()
	n, err := t.storage.ReadNode(nodeLBA)
	if err != nil {
		return err
	}

	if n.isLeaf {
		idx := upperBound(n.keys, n.keyCnt, key)
		insertKeyAt(n.keys, n.keyCnt, idx, key)
		insertValAt(n.vals, n.keyCnt, idx, val)
		n.keyCnt++
		return t.storage.WriteNode(nodeLBA, n)
	}

	idx := upperBound(n.keys, n.keyCnt, key)
	childLBA := n.vals[idx]
	child, err := t.storage.ReadNode(childLBA)
	if err != nil {
		return err
	}

	if child.full(fanout) {
		if err := t.splitChild(nodeLBA, idx); err != nil {
			return err
		}
		n, err = t.storage.ReadNode(nodeLBA)
		if err != nil {
			return err
		}
		if key >= n.keys[idx] {
			idx++
		}
	}
	return t.insertNonFull(n.vals[idx], key, val)
}

// Find descends via upper_bound to a leaf, then lower_bound within the
// leaf, and reports whether key is present.
func (t *Tree) Find(root uint64, key uint64) (uint64, bool, error) {
	if root == 0 {
		return 0, false, nil
	}
	n, err := t.storage.ReadNode(root)
	if err != nil {
		return 0, false, err
	}
	for !n.isLeaf {
		idx := upperBound(n.keys, n.keyCnt, key)
		n, err = t.storage.ReadNode(n.vals[idx])
		if err != nil {
			return 0, false, err
		}
	}
	idx := lowerBound(n.keys, n.keyCnt, key)
	if uint32(idx) < n.keyCnt && n.keys[idx] == key {
		return n.vals[idx], true, nil
	}
	return 0, false, nil
}

// FindRange descends once to the leaf containing from, then walks the
// next_leaf chain, returning a sparse array of size to-from+1 with 0 in
// every position whose key is absent (a hole), per spec.md section 4.5.
func (t *Tree) FindRange(root uint64, from, to uint64) ([]uint64, error) {
	out := make([]uint64, to-from+1)
	if root == 0 {
		return out, nil
	}

	n, err := t.storage.ReadNode(root)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		idx := upperBound(n.keys, n.keyCnt, from)
		n, err = t.storage.ReadNode(n.vals[idx])
		if err != nil {
			return nil, err
		}
	}

	for {
		for i := uint32(0); i < n.keyCnt; i++ {
			k := n.keys[i]
			if k < from {
				continue
			}
			if k > to {
				return out, nil
			}
			out[k-from] = n.vals[i]
		}
		if n.nextLeaf == 0 {
			return out, nil
		}
		n, err = t.storage.ReadNode(n.nextLeaf)
		if err != nil {
			return nil, err
		}
		if n.keyCnt > 0 && n.keys[0] > to {
			return out, nil
		}
	}
}

// Values returns every leaf value stored in the tree rooted at root, in
// key order, by descending to the leftmost leaf and then walking the
// next_leaf chain. Used by callers (the inode table's FreeInode) that
// must free each value themselves before discarding the tree, since
// Clear only frees node blocks, never values (spec.md section 4.5).
func (t *Tree) Values(root uint64) ([]uint64, error) {
	if root == 0 {
		return nil, nil
	}
	n, err := t.storage.ReadNode(root)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		n, err = t.storage.ReadNode(n.vals[0])
		if err != nil {
			return nil, err
		}
	}

	var out []uint64
	for {
		for i := uint32(0); i < n.keyCnt; i++ {
			out = append(out, n.vals[i])
		}
		if n.nextLeaf == 0 {
			return out, nil
		}
		n, err = t.storage.ReadNode(n.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
}

// Clear frees every node of the tree rooted at root via a post-order
// traversal. Leaf values are not freed — the inode table (or whichever
// caller owns the value space) interprets and frees them itself.
func (t *Tree) Clear(root uint64) error {
	if root == 0 {
		return nil
	}
	n, err := t.storage.ReadNode(root)
	if err != nil {
		return err
	}
	if !n.isLeaf {
		for i := uint32(0); i <= n.keyCnt; i++ {
			if err := t.Clear(n.vals[i]); err != nil {
				return err
			}
		}
	}
	return t.storage.FreeNode(root)
}
