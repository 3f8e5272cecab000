package inode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/allocator"
	"blockfs/btree"
	"blockfs/config"
	"blockfs/disk"
	"blockfs/errs"
	"blockfs/ioctx"
	"blockfs/logging"
	"blockfs/superblock"
)

func newTestTable(t *testing.T, diskSize int64) (*Table, *ioctx.Context) {
	t.Helper()
	d := disk.NewMem(config.DefaultBlockSize, diskSize/config.DefaultBlockSize)
	io := ioctx.New(d, config.BlockCacheCapacity, logging.Discard())
	sb := superblock.Derive(diskSize, config.DefaultBlockSize)
	io.SetSuper(sb)

	alloc := allocator.New(io, logging.Discard())
	require.NoError(t, alloc.ResetBitmap())

	treeStorage := btree.NewIOStorage(io, alloc)
	table := New(io, alloc, treeStorage, config.InodeCacheCapacity, logging.Discard())
	require.NoError(t, table.ResetBitmap())
	return table, io
}

func TestAllocateInodeStartsInline(t *testing.T) {
	table, _ := newTestTable(t, 8*1024*1024)

	id, err := table.AllocateInode(File)
	require.NoError(t, err)

	n, err := table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Inline, n.StorageType)
	assert.EqualValues(t, 0, n.Size)
	assert.EqualValues(t, 0, n.BlockLBA)
}

func TestWriteReadInlineRoundTrip(t *testing.T) {
	table, _ := newTestTable(t, 8*1024*1024)
	id, err := table.AllocateInode(File)
	require.NoError(t, err)

	data := []byte("hello, blockfs")
	require.NoError(t, table.WriteData(id, 0, data))

	n, err := table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Inline, n.StorageType)
	assert.EqualValues(t, len(data), n.Size)

	out := make([]byte, len(data))
	read, err := table.ReadData(id, 0, out)
	require.NoError(t, err)
	assert.Equal(t, len(data), read)
	assert.Equal(t, data, out)
}

func TestStorageUpgradeInlineDirectIndex(t *testing.T) {
	table, io := newTestTable(t, 64*1024*1024)
	blockSize := io.Disk().BlockSize()

	id, err := table.AllocateInode(File)
	require.NoError(t, err)

	prefix := bytes.Repeat([]byte{0xAB}, 400)
	require.NoError(t, table.WriteData(id, 0, prefix))
	n, err := table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Inline, n.StorageType, "400 bytes must still fit inline")

	tail := bytes.Repeat([]byte{0xCD}, 20*1024)
	require.NoError(t, table.WriteData(id, uint64(len(prefix)), tail))

	n, err = table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Index, n.StorageType, "appending past one block must upgrade all the way to Index")
	assert.EqualValues(t, len(prefix)+len(tail), n.Size)

	whole := make([]byte, len(prefix)+len(tail))
	read, err := table.ReadData(id, 0, whole)
	require.NoError(t, err)
	assert.Equal(t, len(whole), read)
	assert.Equal(t, append(append([]byte{}, prefix...), tail...), whole)
	_ = blockSize
}

func TestSparseWriteReadsZeroHoles(t *testing.T) {
	table, io := newTestTable(t, 64*1024*1024)
	blockSize := uint64(io.Disk().BlockSize())

	id, err := table.AllocateInode(File)
	require.NoError(t, err)

	needle := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	offset := 5 * blockSize
	require.NoError(t, table.WriteData(id, offset, needle))

	n, err := table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, offset+uint64(len(needle)), n.Size)

	zeros := make([]byte, offset)
	read, err := table.ReadData(id, 0, zeros)
	require.NoError(t, err)
	assert.EqualValues(t, offset, read)
	for i, b := range zeros {
		require.Zerof(t, b, "byte %d of the hole must read as zero", i)
	}

	got := make([]byte, len(needle))
	read, err = table.ReadData(id, offset, got)
	require.NoError(t, err)
	assert.Equal(t, len(needle), read)
	assert.Equal(t, needle, got)
}

func TestReadPastSizeReturnsZeroBytes(t *testing.T) {
	table, _ := newTestTable(t, 8*1024*1024)
	id, err := table.AllocateInode(File)
	require.NoError(t, err)
	require.NoError(t, table.WriteData(id, 0, []byte("abc")))

	buf := make([]byte, 10)
	n, err := table.ReadData(id, 100, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFreeInodeReleasesIndexBlocks(t *testing.T) {
	table, io := newTestTable(t, 64*1024*1024)
	id, err := table.AllocateInode(File)
	require.NoError(t, err)
	freeBefore := io.Super().FreeBlocks

	require.NoError(t, table.WriteData(id, 0, bytes.Repeat([]byte{1}, 64*1024)))
	n, err := table.Get(id)
	require.NoError(t, err)
	require.Equal(t, Index, n.StorageType)

	require.NoError(t, table.FreeInode(id))
	assert.Equal(t, freeBefore, io.Super().FreeBlocks, "every data block and tree node must be returned to the allocator")

	n, err = table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Inline, n.StorageType)
	assert.EqualValues(t, 0, n.Size)
}

func TestDirectoryAddFindRemoveRoundTrip(t *testing.T) {
	table, _ := newTestTable(t, 8*1024*1024)
	dirID, err := table.AllocateInode(Directory)
	require.NoError(t, err)
	require.NoError(t, table.AddDirItem(dirID, ".", dirID))
	require.NoError(t, table.AddDirItem(dirID, "..", dirID))

	fileID, err := table.AllocateInode(File)
	require.NoError(t, err)

	sizeBefore, err := table.Get(dirID)
	require.NoError(t, err)

	require.NoError(t, table.AddDirItem(dirID, "hello.txt", fileID))

	got, found, err := table.FindInodeByName(dirID, "hello.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fileID, got)

	require.NoError(t, table.RemoveDirItem(dirID, "hello.txt"))
	_, found, err = table.FindInodeByName(dirID, "hello.txt")
	require.NoError(t, err)
	assert.False(t, found)

	sizeAfter, err := table.Get(dirID)
	require.NoError(t, err)
	assert.Equal(t, sizeBefore.Size, sizeAfter.Size, "directory size must return to its prior value")
}

func TestAddDirItemRejectsDuplicateNames(t *testing.T) {
	table, _ := newTestTable(t, 8*1024*1024)
	dirID, err := table.AllocateInode(Directory)
	require.NoError(t, err)
	fileID, err := table.AllocateInode(File)
	require.NoError(t, err)

	require.NoError(t, table.AddDirItem(dirID, "a", fileID))
	err = table.AddDirItem(dirID, "a", fileID)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestRemoveDirItemRefusesDotNames(t *testing.T) {
	table, _ := newTestTable(t, 8*1024*1024)
	dirID, err := table.AllocateInode(Directory)
	require.NoError(t, err)
	require.NoError(t, table.AddDirItem(dirID, ".", dirID))

	err = table.RemoveDirItem(dirID, ".")
	assert.Error(t, err)
}
