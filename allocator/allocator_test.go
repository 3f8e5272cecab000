package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/config"
	"blockfs/disk"
	"blockfs/errs"
	"blockfs/ioctx"
	"blockfs/logging"
	"blockfs/superblock"
)

func newTestContext(t *testing.T, diskSize int64) *ioctx.Context {
	t.Helper()
	d := disk.NewMem(config.DefaultBlockSize, diskSize/config.DefaultBlockSize)
	io := ioctx.New(d, config.BlockCacheCapacity, logging.Discard())
	sb := superblock.Derive(diskSize, config.DefaultBlockSize)
	io.SetSuper(sb)
	return io
}

func TestResetBitmapMarksBasicBlocksUsed(t *testing.T) {
	io := newTestContext(t, 8*1024*1024)
	a := New(io, logging.Discard())
	require.NoError(t, a.ResetBitmap())

	sb := io.Super()
	free, err := a.FreeBlocksCount()
	require.NoError(t, err)
	assert.Equal(t, sb.TotalBlocks-sb.BasicBlocksCnt(), free)
}

func TestAllocateThenFreeRoundTrips(t *testing.T) {
	io := newTestContext(t, 8*1024*1024)
	a := New(io, logging.Discard())
	require.NoError(t, a.ResetBitmap())

	before, err := a.FreeBlocksCount()
	require.NoError(t, err)

	lba, err := a.AllocateBlock()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lba, io.Super().BasicBlocksCnt())

	mid, err := a.FreeBlocksCount()
	require.NoError(t, err)
	assert.Equal(t, before-1, mid)

	require.NoError(t, a.FreeBlock(lba))
	after, err := a.FreeBlocksCount()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAllocateNeverHandsOutBasicBlocks(t *testing.T) {
	io := newTestContext(t, 2*1024*1024)
	a := New(io, logging.Discard())
	require.NoError(t, a.ResetBitmap())

	sb := io.Super()
	for i := uint64(0); i < sb.TotalBlocks-sb.BasicBlocksCnt(); i++ {
		lba, err := a.AllocateBlock()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, lba, sb.BasicBlocksCnt())
	}

	_, err := a.AllocateBlock()
	assert.True(t, errs.Is(err, errs.OutOfSpace))
}
