package inode

import (
	"github.com/sirupsen/logrus"

	"blockfs/allocator"
	"blockfs/bitmap"
	"blockfs/btree"
	"blockfs/cache"
	"blockfs/config"
	"blockfs/errs"
	"blockfs/ioctx"
)

// dirScanBatch bounds how many DirItem records a single forEachDirItem
// round reads in one I/O call, per spec.md section 4.6's directory scan
// ("linear scan ... in batches, e.g. 1024 entries per I/O round").
const dirScanBatch = 1024

// inodeBackend adapts the I/O context to cache.Backend[uint64, *Inode]:
// an inode's backing store is one inode-sized slot inside a shared
// inode-table block, so Save re-acquires the enclosing block and patches
// only that slot — every other inode sharing the block survives.
type inodeBackend struct {
	io *ioctx.Context
}

func (b inodeBackend) slot(id uint64) (lba int64, offset int) {
	sb := b.io.Super()
	perBlock := uint64(sb.InodesPerBlock)
	blockIdx := id / perBlock
	offset = int(id%perBlock) * int(sb.InodeSize)
	return int64(sb.InodeTableStart) + int64(blockIdx), offset
}

func (b inodeBackend) Load(id uint64) (*Inode, error) {
	lba, offset := b.slot(id)
	h, err := b.io.ReadBlock(lba)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	buf := h.Value()[offset : offset+config.InodeSize]
	return decodeInode(buf), nil
}

func (b inodeBackend) Save(id uint64, n *Inode) error {
	lba, offset := b.slot(id)
	h, err := b.io.AcquireBlock(lba)
	if err != nil {
		return err
	}
	copy(h.Value()[offset:offset+config.InodeSize], encodeInode(n))
	h.Release()
	return nil
}

// Table owns the inode bitmap, the on-disk inode blocks (through the
// inode-cache LRU with write-back), and per-inode data storage via the
// Inline/Direct/Index state machine, plus the directory API built on top
// of it. Grounded on HULER-cloud-SimLinuxFileSystem's imap.go (the
// first-fit inode-bitmap scan) and inode/block.go's data dispatch,
// replacing their package-global *os.File and JSON inode records with
// explicit composition over ioctx.Context and the generic cache.LRU.
type Table struct {
	io    *ioctx.Context
	alloc *allocator.Allocator
	tree  *btree.Tree
	cache *cache.LRU[uint64, *Inode]
	log   *logrus.Logger
}

func New(io *ioctx.Context, alloc *allocator.Allocator, treeStorage btree.Storage, cacheCapacity int, log *logrus.Logger) *Table {
	return &Table{
		io:    io,
		alloc: alloc,
		tree:  btree.New(treeStorage, log),
		cache: cache.New[uint64, *Inode](cacheCapacity, inodeBackend{io: io}, log, "inode-cache"),
		log:   log,
	}
}

func validBitsForInodeBitmapBlock(blockIdx, bitsPerBlock, totalInodes uint64) uint64 {
	start := blockIdx * bitsPerBlock
	if start >= totalInodes {
		return 0
	}
	if start+bitsPerBlock > totalInodes {
		return totalInodes - start
	}
	return bitsPerBlock
}

// ResetBitmap clears every bit in the inode-validity bitmap (no inode is
// reserved up front; the root directory is allocated normally right
// after format resets this).
func (t *Table) ResetBitmap() error {
	sb := t.io.Super()
	for i := uint64(0); i < sb.InodeBitmapCount; i++ {
		h, err := t.io.AcquireBlock(int64(sb.InodeBitmapStart) + int64(i))
		if err != nil {
			return err
		}
		bitmap.FillPrefix(h.Value(), 0)
		h.Release()
	}
	sb.FreeInodes = sb.InodesCount
	return nil
}

// AllocateInode performs the first-fit scan over the inode bitmap and
// installs a freshly zeroed inode of type ft into the cache.
func (t *Table) AllocateInode(ft FileType) (uint64, error) {
	sb := t.io.Super()
	bitsPerBlock := uint64(sb.BitsPerBlock)

	for i := uint64(0); i < sb.InodeBitmapCount; i++ {
		valid := validBitsForInodeBitmapBlock(i, bitsPerBlock, sb.InodesCount)
		if valid == 0 {
			continue
		}
		h, err := t.io.AcquireBlock(int64(sb.InodeBitmapStart) + int64(i))
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

		id := i*bitsPerBlock + idx
		sb.FreeInodes--

		eh, err := t.cache.GetMut(id)
		if err != nil {
			return 0, err
		}
		eh.Set(newEmptyInode(id, ft))
		eh.Release()

		t.log.WithFields(logrus.Fields{"id": id, "type": ft}).Debug("inode table: allocated")
		return id, nil
	}
	t.log.Warn("inode table: out of inodes")
	return 0, errs.New("inode.AllocateInode", errs.OutOfInodes)
}

// FreeInode frees every data block owned by id (the single Direct block,
// or every value plus the tree itself for Index), zeroes the cached
// inode, and clears its bitmap bit.
func (t *Table) FreeInode(id uint64) error {
	h, err := t.cache.GetMut(id)
	if err != nil {
		return err
	}
	n := h.Value()

	switch n.StorageType {
	case Direct:
		if n.BlockLBA != 0 {
			if err := t.alloc.FreeBlock(n.BlockLBA); err != nil {
				h.Release()
				return err
			}
			t.io.Forget(int64(n.BlockLBA))
		}
	case Index:
		vals, err := t.tree.Values(n.BlockLBA)
		if err != nil {
			h.Release()
			return err
		}
		for _, v := range vals {
			if v == 0 {
				continue
			}
			if err := t.alloc.FreeBlock(v); err != nil {
				h.Release()
				return err
			}
			t.io.Forget(int64(v))
		}
		if err := t.tree.Clear(n.BlockLBA); err != nil {
			h.Release()
			return err
		}
	}

	n.ParentID = 0
	n.BlockLBA = 0
	n.LinkCnt = 0
	n.StorageType = Inline
	n.Size = 0
	for i := range n.InlineData {
		n.InlineData[i] = 0
	}
	h.Release()

	sb := t.io.Super()
	bitsPerBlock := uint64(sb.BitsPerBlock)
	blockIdx := id / bitsPerBlock
	bitIdx := id % bitsPerBlock
	bh, err := t.io.AcquireBlock(int64(sb.InodeBitmapStart) + int64(blockIdx))
	if err != nil {
		return err
	}
	bitmap.Clear(bh.Value(), bitIdx)
	bh.Release()
	sb.FreeInodes++

	t.log.WithFields(logrus.Fields{"id": id}).Debug("inode table: freed")
	return nil
}

// Get returns a copy of the inode's header fields (not its storage
// payload) — used by callers that only need metadata such as FileType,
// Size or LinkCnt.
func (t *Table) Get(id uint64) (*Inode, error) {
	h, err := t.cache.Get(id)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	src := h.Value()
	cp := *src
	cp.InlineData = append([]byte(nil), src.InlineData...)
	return &cp, nil
}

func (t *Table) setSize(id uint64, size uint64) error {
	h, err := t.cache.GetMut(id)
	if err != nil {
		return err
	}
	h.Value().Size = size
	h.Release()
	return nil
}

func (t *Table) bumpSize(id uint64, newSize uint64) error {
	h, err := t.cache.GetMut(id)
	if err != nil {
		return err
	}
	n := h.Value()
	if newSize > n.Size {
		n.Size = newSize
	}
	h.Release()
	return nil
}

// ReadData reads at most min(len(out), size-offset) bytes starting at
// offset, dispatching on the inode's current storage type, and returns
// the number of bytes read. offset >= size reads zero bytes.
func (t *Table) ReadData(id uint64, offset uint64, out []byte) (int, error) {
	h, err := t.cache.Get(id)
	if err != nil {
		return 0, err
	}
	n := h.Value()
	size := n.Size
	storageType := n.StorageType
	blockLBA := n.BlockLBA
	var inlineCopy []byte
	if storageType == Inline {
		inlineCopy = append([]byte(nil), n.InlineData...)
	}
	h.Release()

	if offset >= size || len(out) == 0 {
		return 0, nil
	}
	toRead := size - offset
	if uint64(len(out)) < toRead {
		toRead = uint64(len(out))
	}

	switch storageType {
	case Inline:
		copy(out[:toRead], inlineCopy[offset:offset+toRead])
		return int(toRead), nil
	case Direct:
		bh, err := t.io.ReadBlock(int64(blockLBA))
		if err != nil {
			return 0, err
		}
		defer bh.Release()
		copy(out[:toRead], bh.Value()[offset:offset+toRead])
		return int(toRead), nil
	case Index:
		return t.readIndexData(blockLBA, offset, out[:toRead])
	}
	errs.Abort("inode.ReadData", errs.New("inode.ReadData", errs.Corruption))
	return 0, nil
}

func (t *Table) readIndexData(root uint64, offset uint64, out []byte) (int, error) {
	blockSize := uint64(t.io.Disk().BlockSize())
	n := uint64(len(out))
	firstBlk := offset / blockSize
	lastBlk := (offset + n - 1) / blockSize

	lbas, err := t.tree.FindRange(root, firstBlk, lastBlk)
	if err != nil {
		return 0, err
	}

	for blk := firstBlk; blk <= lastBlk; blk++ {
		lba := lbas[blk-firstBlk]
		blockStart := blk * blockSize
		lo := uint64(0)
		if offset > blockStart {
			lo = offset - blockStart
		}
		hi := blockSize
		if blockStart+blockSize > offset+n {
			hi = offset + n - blockStart
		}
		outLo := blockStart + lo - offset
		outHi := blockStart + hi - offset

		if lba == 0 {
			for i := outLo; i < outHi; i++ {
				out[i] = 0
			}
			continue
		}
		bh, err := t.io.ReadBlock(int64(lba))
		if err != nil {
			return 0, err
		}
		copy(out[outLo:outHi], bh.Value()[lo:hi])
		bh.Release()
	}
	return int(n), nil
}

// WriteData writes in at offset, upgrading the inode's storage strategy
// (Inline -> Direct -> Index) as needed per spec.md section 4.6. Unlike
// HULER-cloud-SimLinuxFileSystem's inode_add_data (three branches with
// missing breaks that silently fall into the next case) this is an
// explicit state machine: each stage writes what fits, then recurses
// into the next stage for whatever remains.
func (t *Table) WriteData(id uint64, offset uint64, in []byte) error {
	if len(in) == 0 {
		return nil
	}

	h, err := t.cache.GetMut(id)
	if err != nil {
		return err
	}
	n := h.Value()
	storageType := n.StorageType

	switch storageType {
	case Inline:
		total := offset + uint64(len(in))
		if total <= InodeDataSize {
			copy(n.InlineData[offset:total], in)
			if total > n.Size {
				n.Size = total
			}
			h.Release()
			return nil
		}
		return t.upgradeInlineToDirect(id, h, offset, in)

	case Direct:
		blockLBA := n.BlockLBA
		h.Release()
		return t.writeDirect(id, blockLBA, offset, in)

	case Index:
		root := n.BlockLBA
		h.Release()
		return t.writeIndex(id, root, offset, in)
	}

	h.Release()
	errs.Abort("inode.WriteData", errs.New("inode.WriteData", errs.Corruption))
	return nil
}

// upgradeInlineToDirect converts an Inline inode to Direct: the block is
// built fully in memory (old inline bytes, then whatever of the new
// write fits) and written wholesale, so a reused block never shows
// stale data from its previous owner. h is the already-held exclusive
// handle on the inode, released before returning.
func (t *Table) upgradeInlineToDirect(id uint64, h *cache.Exclusive[*Inode], offset uint64, in []byte) error {
	n := h.Value()
	blockSize := uint64(t.io.Disk().BlockSize())

	blockBuf := make([]byte, blockSize)
	copy(blockBuf, n.InlineData[:n.Size])

	var fit uint64
	if offset < blockSize {
		end := offset + uint64(len(in))
		if end > blockSize {
			end = blockSize
		}
		copy(blockBuf[offset:end], in[:end-offset])
		fit = end - offset
	}

	lba, err := t.alloc.AllocateBlock()
	if err != nil {
		h.Release()
		return err
	}

	for i := range n.InlineData {
		n.InlineData[i] = 0
	}
	n.StorageType = Direct
	n.BlockLBA = lba
	if offset+fit > n.Size {
		n.Size = offset + fit
	}
	h.Release()

	bh, err := t.io.AcquireBlock(int64(lba))
	if err != nil {
		return err
	}
	bh.Set(blockBuf)
	bh.Release()

	if fit < uint64(len(in)) {
		return t.writeDirect(id, lba, offset+fit, in[fit:])
	}
	return nil
}

// writeDirect writes to an inode already in (or just promoted to)
// Direct state. If the write still fits in the single block it is a
// plain read-modify-write; otherwise the prefix that fits is written,
// the block becomes leaf 0 of a fresh B+-tree, and the remainder
// recurses into Index state.
func (t *Table) writeDirect(id uint64, blockLBA uint64, offset uint64, in []byte) error {
	blockSize := uint64(t.io.Disk().BlockSize())
	n := uint64(len(in))

	if offset+n <= blockSize {
		bh, err := t.io.AcquireBlock(int64(blockLBA))
		if err != nil {
			return err
		}
		copy(bh.Value()[offset:offset+n], in)
		bh.Release()
		return t.bumpSize(id, offset+n)
	}

	var fit uint64
	if offset < blockSize {
		fit = blockSize - offset
		bh, err := t.io.AcquireBlock(int64(blockLBA))
		if err != nil {
			return err
		}
		copy(bh.Value()[offset:blockSize], in[:fit])
		bh.Release()
		if err := t.bumpSize(id, offset+fit); err != nil {
			return err
		}
	}

	root, err := t.tree.Insert(0, 0, blockLBA)
	if err != nil {
		return err
	}
	if err := t.setStorage(id, Index, root); err != nil {
		return err
	}

	return t.writeIndex(id, root, offset+fit, in[fit:])
}

func (t *Table) setStorage(id uint64, st StorageType, blockLBA uint64) error {
	h, err := t.cache.GetMut(id)
	if err != nil {
		return err
	}
	n := h.Value()
	n.StorageType = st
	n.BlockLBA = blockLBA
	h.Release()
	return nil
}

// writeIndex writes to an inode in Index state: for each logical block
// the write touches, allocate-on-miss then read-modify-write.
func (t *Table) writeIndex(id uint64, root uint64, offset uint64, in []byte) error {
	if len(in) == 0 {
		return nil
	}
	blockSize := uint64(t.io.Disk().BlockSize())
	n := uint64(len(in))
	firstBlk := offset / blockSize
	lastBlk := (offset + n - 1) / blockSize
	maxOffset := uint64(0)

	for blk := firstBlk; blk <= lastBlk; blk++ {
		lba, found, err := t.tree.Find(root, blk)
		if err != nil {
			return err
		}
		if !found {
			newLBA, err := t.alloc.AllocateBlock()
			if err != nil {
				return err
			}
			newRoot, err := t.tree.Insert(root, blk, newLBA)
			if err != nil {
				return err
			}
			if newRoot != root {
				root = newRoot
				if err := t.setStorage(id, Index, root); err != nil {
					return err
				}
			}
			lba = newLBA
		}

		blockStart := blk * blockSize
		lo := uint64(0)
		if offset > blockStart {
			lo = offset - blockStart
		}
		hi := blockSize
		if blockStart+blockSize > offset+n {
			hi = offset + n - blockStart
		}
		inLo := blockStart + lo - offset
		inHi := blockStart + hi - offset

		bh, err := t.io.AcquireBlock(int64(lba))
		if err != nil {
			return err
		}
		copy(bh.Value()[lo:hi], in[inLo:inHi])
		bh.Release()

		if blockStart+hi > maxOffset {
			maxOffset = blockStart + hi
		}
	}
	return t.bumpSize(id, maxOffset)
}

// Flush writes back every dirty cached inode.
func (t *Table) Flush() error { return t.cache.FlushAll() }

// ClearCache drops every cached inode without saving.
func (t *Table) ClearCache() { t.cache.DiscardAll() }

// AddDirItem appends a DirItem(name -> targetID) to directory dirID,
// failing AlreadyExists if name is already present. Linking the root's
// own "." entry during bootstrap (targetID == dirID) does not bump
// link_cnt, per spec.md section 4.6.
func (t *Table) AddDirItem(dirID uint64, name string, targetID uint64) error {
	if _, found, err := t.FindInodeByName(dirID, name); err != nil {
		return err
	} else if found {
		return errs.New("inode.AddDirItem", errs.AlreadyExists)
	}

	dir, err := t.Get(dirID)
	if err != nil {
		return err
	}

	buf := encodeDirItem(DirItem{InodeID: targetID, Name: name})
	if err := t.WriteData(dirID, dir.Size, buf); err != nil {
		return err
	}

	if targetID != dirID {
		h, err := t.cache.GetMut(targetID)
		if err != nil {
			return err
		}
		h.Value().LinkCnt++
		h.Release()
	}
	return nil
}

// RemoveDirItem removes the DirItem named name from directory dirID by
// tail-swap compaction, decrementing the target's link_cnt and freeing
// it once that count reaches zero.
func (t *Table) RemoveDirItem(dirID uint64, name string) error {
	if name == "." || name == ".." {
		return errs.New("inode.RemoveDirItem", errs.NotFound)
	}

	targetID, found, err := t.FindInodeByName(dirID, name)
	if err != nil {
		return err
	}
	if !found {
		return errs.New("inode.RemoveDirItem", errs.NotFound)
	}

	target, err := t.Get(targetID)
	if err != nil {
		return err
	}
	if target.FileType == Directory && target.Size > 2*config.DirItemSize {
		return errs.New("inode.RemoveDirItem", errs.DirNotEmpty)
	}

	dir, err := t.Get(dirID)
	if err != nil {
		return err
	}
	count := dir.Size / config.DirItemSize
	lastIdx := count - 1

	var targetIdx uint64
	var lastItem DirItem
	err = t.forEachDirItem(dirID, func(idx uint64, item DirItem) (bool, error) {
		if item.Name == name {
			targetIdx = idx
		}
		if idx == lastIdx {
			lastItem = item
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	if targetIdx != lastIdx {
		buf := encodeDirItem(lastItem)
		if err := t.WriteData(dirID, targetIdx*config.DirItemSize, buf); err != nil {
			return err
		}
	}
	if err := t.setSize(dirID, dir.Size-config.DirItemSize); err != nil {
		return err
	}

	h, err := t.cache.GetMut(targetID)
	if err != nil {
		return err
	}
	inode := h.Value()
	inode.LinkCnt--
	linkCnt := inode.LinkCnt
	h.Release()

	if linkCnt == 0 {
		return t.FreeInode(targetID)
	}
	return nil
}

// FindInodeByName linear-scans dirID's entries for name.
func (t *Table) FindInodeByName(dirID uint64, name string) (uint64, bool, error) {
	var result uint64
	var ok bool
	err := t.forEachDirItem(dirID, func(_ uint64, item DirItem) (bool, error) {
		if item.Name == name {
			result, ok = item.InodeID, true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return 0, false, err
	}
	return result, ok, nil
}

// ListDirItems returns every DirItem in dirID, in on-disk order.
func (t *Table) ListDirItems(dirID uint64) ([]DirItem, error) {
	var out []DirItem
	err := t.forEachDirItem(dirID, func(_ uint64, item DirItem) (bool, error) {
		out = append(out, item)
		return true, nil
	})
	return out, err
}

// forEachDirItem reads dirID's content in dirScanBatch-record rounds,
// invoking fn for each decoded DirItem in order until fn returns false
// or every entry has been visited.
func (t *Table) forEachDirItem(dirID uint64, fn func(idx uint64, item DirItem) (cont bool, err error)) error {
	dir, err := t.Get(dirID)
	if err != nil {
		return err
	}
	count := dir.Size / config.DirItemSize
	buf := make([]byte, dirScanBatch*config.DirItemSize)

	for start := uint64(0); start < count; start += dirScanBatch {
		batch := uint64(dirScanBatch)
		if start+batch > count {
			batch = count - start
		}
		want := int(batch) * config.DirItemSize
		if _, err := t.ReadData(dirID, start*config.DirItemSize, buf[:want]); err != nil {
			return err
		}
		for i := uint64(0); i < batch; i++ {
			rec := buf[i*config.DirItemSize : (i+1)*config.DirItemSize]
			cont, err := fn(start+i, decodeDirItem(rec))
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	}
	return nil
}
